// Package credentials seals upstream API key pairs at rest.
package credentials

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

var (
	ErrInvalidKey  = errors.New("credentials: key must be 32 bytes")
	ErrCorrupted   = errors.New("credentials: sealed credentials are corrupted")
	ErrEmptySecret = errors.New("credentials: key and secret are required")
)

// Cipher seals credentials with XChaCha20-Poly1305. The tenant id is bound
// as additional data so a sealed blob cannot be moved to another shop.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

type sealedPair struct {
	Key    string `json:"k"`
	Secret string `json:"s"`
}

// Seal encrypts creds for tenantID. Output is nonce || ciphertext.
func (c *Cipher) Seal(tenantID uuid.UUID, creds integration.Credentials) ([]byte, error) {
	if creds.Key == "" || creds.Secret == "" {
		return nil, ErrEmptySecret
	}
	plain, err := json.Marshal(sealedPair{Key: creds.Key, Secret: creds.Secret})
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("credentials: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plain, tenantID[:]), nil
}

// Open decrypts a blob produced by Seal for the same tenant
func (c *Cipher) Open(tenantID uuid.UUID, sealed []byte) (integration.Credentials, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return integration.Credentials{}, ErrCorrupted
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], tenantID[:])
	if err != nil {
		return integration.Credentials{}, ErrCorrupted
	}
	var p sealedPair
	if err := json.Unmarshal(plain, &p); err != nil {
		return integration.Credentials{}, ErrCorrupted
	}
	return integration.Credentials{Key: p.Key, Secret: p.Secret}, nil
}

// ShopFinder loads a shop by tenant id
type ShopFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*shop.Shop, error)
}

// Store resolves decrypted credentials from the shop record
type Store struct {
	shops  ShopFinder
	cipher *Cipher
}

// NewStore creates a credential store
func NewStore(shops ShopFinder, cipher *Cipher) *Store {
	return &Store{shops: shops, cipher: cipher}
}

// Credentials implements integration.CredentialStore
func (s *Store) Credentials(ctx context.Context, tenantID uuid.UUID) (integration.Credentials, error) {
	sh, err := s.shops.FindByID(ctx, tenantID)
	if err != nil {
		return integration.Credentials{}, err
	}
	if len(sh.Credentials) == 0 {
		return integration.Credentials{}, shop.ErrMissingCredentials
	}
	return s.cipher.Open(tenantID, sh.Credentials)
}

var _ integration.CredentialStore = (*Store)(nil)
