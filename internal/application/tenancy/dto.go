package tenancy

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/application/catalogsync"
	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

// InstallInput contains the install callback parameters. ShopID, Language,
// Timestamp and Token are covered by Hash; Cluster selects the API host.
type InstallInput struct {
	ShopID    string
	Language  string
	Timestamp string
	Token     string
	Hash      string
	Cluster   string
}

// InstallResult describes an installed shop
type InstallResult struct {
	TenantID      uuid.UUID                     `json:"tenant_id"`
	Reinstalled   bool                          `json:"reinstalled"`
	Subscriptions map[catalog.EntityType]string `json:"subscriptions"`
	// FailedGroups lists item groups whose webhook registration failed;
	// they are covered by scheduled reconciliation until the next install.
	FailedGroups []catalog.EntityType `json:"failed_groups,omitempty"`
	SyncTaskID   *uuid.UUID           `json:"sync_task_id,omitempty"`
}

// ShopDTO is the admin view of a shop
type ShopDTO struct {
	ID             uuid.UUID  `json:"id"`
	UpstreamShopID string     `json:"upstream_shop_id"`
	Cluster        string     `json:"cluster"`
	Locale         string     `json:"locale"`
	Active         bool       `json:"active"`
	Status         string     `json:"status"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	InstalledAt    time.Time  `json:"installed_at"`
}

// SyncStatusDTO combines the persisted shop status with the live orchestrator state
type SyncStatusDTO struct {
	Shop         ShopDTO                  `json:"shop"`
	Orchestrator catalogsync.TenantStatus `json:"orchestrator"`
}

// TriggerResult describes a manually queued sync
type TriggerResult struct {
	TaskID uuid.UUID            `json:"task_id"`
	Mode   integration.SyncMode `json:"mode"`
}

// ToShopDTO converts a domain shop
func ToShopDTO(s *shop.Shop) ShopDTO {
	return ShopDTO{
		ID:             s.ID,
		UpstreamShopID: s.UpstreamShopID,
		Cluster:        s.Cluster,
		Locale:         s.Locale.String(),
		Active:         s.Active,
		Status:         s.Status.String(),
		LastSyncAt:     s.LastSyncAt,
		LastError:      s.LastError,
		InstalledAt:    s.InstalledAt,
	}
}
