// Package shop contains the Shop aggregate, the tenant isolation boundary of the
// catalog sync engine.
package shop

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

var (
	ErrShopNotFound        = errors.New("shop: not found")
	ErrInvalidUpstreamID   = errors.New("shop: invalid upstream shop id")
	ErrInvalidCluster      = errors.New("shop: invalid cluster")
	ErrInvalidLocale       = errors.New("shop: invalid locale")
	ErrShopInactive        = errors.New("shop: shop is uninstalled")
	ErrMissingCredentials  = errors.New("shop: credentials not set")
	ErrInvalidStatusChange = errors.New("shop: invalid sync status transition")
)

// SyncStatus is the externally visible sync state of a shop
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "PENDING"
	SyncStatusSyncing   SyncStatus = "SYNCING"
	SyncStatusCompleted SyncStatus = "COMPLETED"
	SyncStatusFailed    SyncStatus = "FAILED"
)

// IsValid returns true if the status is known
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusCompleted, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

var clusterPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,30}$`)

// Shop is a tenant: one installation of the app in an upstream shop.
type Shop struct {
	ID             uuid.UUID
	UpstreamShopID string
	// Cluster selects the upstream API host
	Cluster string
	Locale  language.Tag
	// Credentials is the sealed API key pair; see credentials.Cipher
	Credentials []byte
	Status      SyncStatus
	LastSyncAt  *time.Time
	LastError   string
	Active      bool
	InstalledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewShop creates an active shop in Pending state
func NewShop(upstreamShopID, cluster, locale string) (*Shop, error) {
	if upstreamShopID == "" || len(upstreamShopID) > 64 {
		return nil, ErrInvalidUpstreamID
	}
	if !clusterPattern.MatchString(cluster) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCluster, cluster)
	}
	tag, err := ParseLocale(locale)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Shop{
		ID:             uuid.New(),
		UpstreamShopID: upstreamShopID,
		Cluster:        cluster,
		Locale:         tag,
		Status:         SyncStatusPending,
		Active:         true,
		InstalledAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ParseLocale parses a BCP 47 tag, also accepting the "pl_PL" form some shops report.
func ParseLocale(locale string) (language.Tag, error) {
	if locale == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(underscoreToDash(locale))
	if err != nil {
		return language.Und, fmt.Errorf("%w: %q", ErrInvalidLocale, locale)
	}
	return tag, nil
}

func underscoreToDash(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// Reinstall reactivates an uninstalled shop and resets it to Pending
func (s *Shop) Reinstall(cluster string, locale language.Tag) error {
	if !clusterPattern.MatchString(cluster) {
		return fmt.Errorf("%w: %q", ErrInvalidCluster, cluster)
	}
	s.Cluster = cluster
	s.Locale = locale
	s.Active = true
	s.Status = SyncStatusPending
	s.LastError = ""
	s.InstalledAt = time.Now()
	s.UpdatedAt = s.InstalledAt
	return nil
}

// Uninstall deactivates the shop. Sync tasks are no longer accepted.
func (s *Shop) Uninstall() {
	s.Active = false
	s.UpdatedAt = time.Now()
}

// MarkSyncing moves the shop into Syncing
func (s *Shop) MarkSyncing() error {
	if !s.Active {
		return ErrShopInactive
	}
	s.Status = SyncStatusSyncing
	s.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted records a finished sync
func (s *Shop) MarkCompleted(at time.Time) error {
	if s.Status != SyncStatusSyncing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, s.Status, SyncStatusCompleted)
	}
	s.Status = SyncStatusCompleted
	s.LastSyncAt = &at
	s.LastError = ""
	s.UpdatedAt = time.Now()
	return nil
}

// MarkFailed records a sync that exhausted its retries
func (s *Shop) MarkFailed(reason string) {
	s.Status = SyncStatusFailed
	s.LastError = reason
	s.UpdatedAt = time.Now()
}

// StatusUpdate is a partial write of the sync columns of a shop
type StatusUpdate struct {
	Status     SyncStatus
	LastSyncAt *time.Time
	LastError  string
}

// Repository persists shops. Shops are not tenant-scoped rows; the shop table
// is the tenant directory itself.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Shop, error)
	FindByUpstreamID(ctx context.Context, upstreamShopID string) (*Shop, error)
	ListActive(ctx context.Context) ([]Shop, error)
	Save(ctx context.Context, s *Shop) error
	UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) error
}
