package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

// RateDecision is the outcome of a rate-limit check
type RateDecision struct {
	Granted bool
	// RetryAfter is positive whenever Granted is false
	RetryAfter time.Duration
}

// RateLimiter gatekeeps upstream calls per tenant
type RateLimiter interface {
	TryAcquire(tenantID uuid.UUID) RateDecision
}

// ---------------------------------------------------------------------------
// Upstream catalog
// ---------------------------------------------------------------------------

// Page is one page of a paginated upstream listing
type Page struct {
	Items []catalog.Entity
	// Rejected holds items of the page that could not be decoded or validated
	Rejected   []*ItemError
	NextCursor string
	Done       bool
}

// UpstreamCatalog is the port to the upstream catalog API. Every call is
// authenticated with the tenant's credentials and throttled by the tenant's
// rate budget.
type UpstreamCatalog interface {
	// FetchPage returns the page at cursor; an empty cursor starts from the beginning
	FetchPage(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, cursor string) (*Page, error)
	FetchOne(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, upstreamID string) (catalog.Entity, error)
	// RegisterWebhook subscribes callbackURL to changes of one item group and returns the subscription id
	RegisterWebhook(ctx context.Context, tenantID uuid.UUID, group catalog.EntityType, callbackURL string) (string, error)
}

// Credentials is a decrypted upstream API key pair
type Credentials struct {
	Key    string
	Secret string
}

// CredentialStore returns decrypted credentials for a tenant
type CredentialStore interface {
	Credentials(ctx context.Context, tenantID uuid.UUID) (Credentials, error)
}

// DeriveWebhookSecret returns the secret shared with upstream for a shop's webhook subscriptions
func DeriveWebhookSecret(signingKey []byte, upstreamShopID string) string {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(upstreamShopID))
	return hex.EncodeToString(mac.Sum(nil))
}

// ---------------------------------------------------------------------------
// Idempotency ledger
// ---------------------------------------------------------------------------

// LedgerKey identifies the ledger record of one entity
type LedgerKey struct {
	TenantID   uuid.UUID
	EntityType catalog.EntityType
	UpstreamID string
}

// LedgerKeyOf returns the key of e within tenantID
func LedgerKeyOf(tenantID uuid.UUID, e catalog.Entity) LedgerKey {
	return LedgerKey{TenantID: tenantID, EntityType: e.Type(), UpstreamID: e.GetHeader().UpstreamID}
}

// IdempotencyLedger records the last applied version per entity. Only a
// strictly newer version may cause a write; equal or older versions are no-ops.
type IdempotencyLedger interface {
	ShouldApply(ctx context.Context, key LedgerKey, version int64) (bool, error)
	// RecordApplied stores version, returning ErrLedgerConflict when an equal
	// or newer version was recorded concurrently.
	RecordApplied(ctx context.Context, key LedgerKey, version int64, appliedAt time.Time) error
	// Forget drops the record of a deleted entity
	Forget(ctx context.Context, key LedgerKey) error
}

// UnitOfWork runs fn with a ledger and store bound to one tenant-scoped
// transaction. The transaction commits only if fn returns nil.
type UnitOfWork interface {
	InTenantTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, ledger IdempotencyLedger, store catalog.Store) error) error
}

// ---------------------------------------------------------------------------
// Tenant lease
// ---------------------------------------------------------------------------

// Lease is a held per-tenant sync lock
type Lease struct {
	TenantID  uuid.UUID
	Token     string
	ExpiresAt time.Time
}

// LeaseStore grants per-tenant sync leases. Acquire is an atomic
// check-and-set and returns ErrTenantLockContention when the lease is held.
type LeaseStore interface {
	Acquire(ctx context.Context, tenantID uuid.UUID, ttl time.Duration) (*Lease, error)
	// Release frees the lease if it is still held with the same token
	Release(ctx context.Context, lease *Lease) error
}

// ---------------------------------------------------------------------------
// Search configuration
// ---------------------------------------------------------------------------

// SearchConfigSource returns a tenant's search field settings
type SearchConfigSource interface {
	SearchFields(ctx context.Context, tenantID uuid.UUID) ([]catalog.SearchFieldSetting, error)
}
