package ecommerce

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("ecommerce: invalid install signature")
	ErrStaleRequest     = errors.New("ecommerce: install request timestamp out of range")
	ErrMissingParameter = errors.New("ecommerce: install request parameter missing")
)

// InstallParams are the query parameters the platform sends when a merchant
// installs the application
type InstallParams struct {
	ShopID    string
	Token     string
	Language  string
	Timestamp string
	Signature string
}

func (p InstallParams) values() map[string]string {
	return map[string]string{
		"language":  p.Language,
		"shop_id":   p.ShopID,
		"timestamp": p.Timestamp,
		"token":     p.Token,
	}
}

// InstallVerifier validates install request signatures. The signature is
// hex(sha512(k1=v1&k2=v2...&kn=vn + appSecret)) over the sorted parameters.
type InstallVerifier struct {
	appSecret string
	maxSkew   time.Duration
	now       func() time.Time
}

// NewInstallVerifier creates a verifier
func NewInstallVerifier(appSecret string, maxSkew time.Duration) *InstallVerifier {
	return &InstallVerifier{appSecret: appSecret, maxSkew: maxSkew, now: time.Now}
}

// Sign computes the signature of params
func (v *InstallVerifier) Sign(params InstallParams) string {
	vals := params.values()
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+vals[k])
	}
	sum := sha512.Sum512([]byte(strings.Join(parts, "&") + v.appSecret))
	return hex.EncodeToString(sum[:])
}

// Verify checks presence, freshness and signature of params
func (v *InstallVerifier) Verify(params InstallParams) error {
	if params.ShopID == "" || params.Token == "" || params.Timestamp == "" || params.Signature == "" {
		return ErrMissingParameter
	}
	ts, err := strconv.ParseInt(params.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrStaleRequest, params.Timestamp)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.maxSkew > 0 && skew > v.maxSkew {
		return ErrStaleRequest
	}
	expected := v.Sign(params)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(params.Signature))) {
		return ErrInvalidSignature
	}
	return nil
}
