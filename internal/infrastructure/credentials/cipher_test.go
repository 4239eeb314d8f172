package credentials

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	tenant := uuid.New()
	sealed, err := c.Seal(tenant, integration.Credentials{Key: "k1", Secret: "s1"})
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "s1")

	got, err := c.Open(tenant, sealed)
	require.NoError(t, err)
	assert.Equal(t, integration.Credentials{Key: "k1", Secret: "s1"}, got)

	again, err := c.Seal(tenant, integration.Credentials{Key: "k1", Secret: "s1"})
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")
}

func TestCipher_BoundToTenant(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	sealed, err := c.Seal(uuid.New(), integration.Credentials{Key: "k", Secret: "s"})
	require.NoError(t, err)

	_, err = c.Open(uuid.New(), sealed)
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = c.Open(uuid.New(), sealed[:5])
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestCipher_Errors(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	c, err := NewCipher(testKey())
	require.NoError(t, err)
	_, err = c.Seal(uuid.New(), integration.Credentials{Key: "k"})
	assert.ErrorIs(t, err, ErrEmptySecret)
}

type mapShops map[uuid.UUID]*shop.Shop

func (m mapShops) FindByID(_ context.Context, id uuid.UUID) (*shop.Shop, error) {
	s, ok := m[id]
	if !ok {
		return nil, shop.ErrShopNotFound
	}
	return s, nil
}

func TestStore_Credentials(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	s, err := shop.NewShop("1001", "eu1", "en")
	require.NoError(t, err)
	empty, err := shop.NewShop("1002", "eu1", "en")
	require.NoError(t, err)

	s.Credentials, err = c.Seal(s.ID, integration.Credentials{Key: "key", Secret: "secret"})
	require.NoError(t, err)

	store := NewStore(mapShops{s.ID: s, empty.ID: empty}, c)

	got, err := store.Credentials(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Secret)

	_, err = store.Credentials(context.Background(), empty.ID)
	assert.ErrorIs(t, err, shop.ErrMissingCredentials)

	_, err = store.Credentials(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shop.ErrShopNotFound)
}
