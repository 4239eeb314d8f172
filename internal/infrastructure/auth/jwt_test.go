package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/backend/internal/infrastructure/config"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:          "test-secret-key-at-least-32-chars",
		Issuer:          "shopsync-test",
		TokenExpiration: 15 * time.Minute,
	})
}

func TestNewJWTService_DefaultExpiration(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s"})
	assert.Equal(t, time.Hour, svc.Expiration())
}

func TestGenerateToken(t *testing.T) {
	svc := newTestJWTService()

	issued, err := svc.GenerateToken("ops@example.com", []string{ScopeSyncRead, ScopeSyncWrite})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), issued.ExpiresAt, 5*time.Second)
}

func TestGenerateToken_Errors(t *testing.T) {
	_, err := NewJWTService(config.JWTConfig{}).GenerateToken("ops", nil)
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = newTestJWTService().GenerateToken("", nil)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestValidateToken_Success(t *testing.T) {
	svc := newTestJWTService()
	issued, err := svc.GenerateToken("ops@example.com", []string{ScopeSyncRead})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "shopsync-test", claims.Issuer)
	assert.True(t, claims.HasScope(ScopeSyncRead))
	assert.False(t, claims.HasScope(ScopeSyncWrite))
	assert.Equal(t, issued.ExpiresAt.Unix(), claims.GetExpiresAtTime().Unix())
}

func TestValidateToken_Expired(t *testing.T) {
	svc := newTestJWTService()
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	issued, err := svc.GenerateToken("ops", nil)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateToken_Invalid(t *testing.T) {
	svc := newTestJWTService()

	_, err := svc.ValidateToken("invalid-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_DifferentSecret(t *testing.T) {
	issued, err := newTestJWTService().GenerateToken("ops", nil)
	require.NoError(t, err)

	other := NewJWTService(config.JWTConfig{
		Secret:          "different-secret-key-32-chars!",
		Issuer:          "shopsync-test",
		TokenExpiration: 15 * time.Minute,
	})
	_, err = other.ValidateToken(issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	issued, err := newTestJWTService().GenerateToken("ops", nil)
	require.NoError(t, err)

	other := NewJWTService(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "someone-else",
	})
	_, err = other.ValidateToken(issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_RejectsNonHMAC(t *testing.T) {
	svc := newTestJWTService()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "shopsync-test"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
