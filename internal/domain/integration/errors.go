package integration

import (
	"errors"
	"fmt"

	"github.com/shopsync/backend/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Sync Errors
// ---------------------------------------------------------------------------

var (
	// ErrRateLimitExceeded is returned when no rate grant was obtained within the max wait. Retryable.
	ErrRateLimitExceeded = errors.New("integration: rate limit exceeded")
	// ErrUpstreamUnavailable covers transport failures, timeouts and 5xx responses. Retryable.
	ErrUpstreamUnavailable = errors.New("integration: upstream unavailable")
	// ErrUpstreamRejected covers 4xx responses and undecodable items. Permanent for the item.
	ErrUpstreamRejected = errors.New("integration: upstream rejected request")
	// ErrUpstreamNotFound is a 404; it also matches ErrUpstreamRejected.
	ErrUpstreamNotFound = fmt.Errorf("%w: not found", ErrUpstreamRejected)
	// ErrTenantLockContention means another task holds the tenant's lease.
	ErrTenantLockContention = errors.New("integration: tenant sync already running")
	// ErrCyclicReference marks a dropped category parent link.
	ErrCyclicReference = catalog.ErrCyclicReference
	// ErrLedgerConflict means a concurrent writer recorded an equal or newer version first.
	ErrLedgerConflict = errors.New("integration: idempotency ledger conflict")

	ErrMissingCredentials = errors.New("integration: tenant credentials unavailable")
	ErrInvalidTask        = errors.New("integration: invalid sync task")
	ErrQueueFull          = errors.New("integration: sync queue is full")
	ErrNotRunning         = errors.New("integration: orchestrator is not running")
	ErrTaskCancelled      = errors.New("integration: sync task cancelled")
)

// IsRetryable reports whether a task that failed with err should be retried
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrRateLimitExceeded)
}

// ItemError is a failure confined to a single catalog item.
type ItemError struct {
	EntityType catalog.EntityType
	UpstreamID string
	Err        error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.EntityType, e.UpstreamID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewItemError wraps err for a single item
func NewItemError(entityType catalog.EntityType, upstreamID string, err error) *ItemError {
	return &ItemError{EntityType: entityType, UpstreamID: upstreamID, Err: err}
}

// IsItemLevel reports whether err should skip one item instead of failing the task
func IsItemLevel(err error) bool {
	return errors.Is(err, ErrUpstreamRejected) ||
		errors.Is(err, catalog.ErrInvalidEntity) ||
		errors.Is(err, catalog.ErrOrphanVariant)
}
