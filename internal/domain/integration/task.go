package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/domain/catalog"
)

// ---------------------------------------------------------------------------
// Sync Task
// ---------------------------------------------------------------------------

// SyncMode selects the algorithm a task runs
type SyncMode string

const (
	// SyncModeFull re-fetches every entity type
	SyncModeFull SyncMode = "FULL"
	// SyncModeIncremental applies a single changed item, or one entity type when the item is unknown
	SyncModeIncremental SyncMode = "INCREMENTAL"
	// SyncModeReconcile is a scheduled Full sync
	SyncModeReconcile SyncMode = "RECONCILE"
)

// IsValid returns true if the mode is known
func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModeFull, SyncModeIncremental, SyncModeReconcile:
		return true
	default:
		return false
	}
}

// IsFull reports whether the mode paginates every entity type
func (m SyncMode) IsFull() bool {
	return m == SyncModeFull || m == SyncModeReconcile
}

// String returns the string representation of SyncMode
func (m SyncMode) String() string {
	return string(m)
}

// ItemAction is the upstream change reported by a webhook
type ItemAction string

const (
	ItemActionCreate ItemAction = "create"
	ItemActionUpdate ItemAction = "update"
	ItemActionDelete ItemAction = "delete"
)

// ParseItemAction maps the webhook itemAction. Unknown actions are treated as updates.
func ParseItemAction(s string) ItemAction {
	switch ItemAction(s) {
	case ItemActionCreate, ItemActionDelete:
		return ItemAction(s)
	default:
		return ItemActionUpdate
	}
}

// Task is a unit of sync work for one tenant
type Task struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Mode     SyncMode
	// EntityType optionally restricts an Incremental task to one entity type
	EntityType catalog.EntityType
	// UpstreamID optionally names the single changed item
	UpstreamID string
	Action     ItemAction
	// Version is the item version announced by the webhook, 0 when unknown
	Version    int64
	EnqueuedAt time.Time
	// Attempt counts executions, starting at 1
	Attempt int
}

// NewFullTask creates a Full (or Reconcile) task
func NewFullTask(tenantID uuid.UUID, mode SyncMode) Task {
	return Task{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Mode:       mode,
		EnqueuedAt: time.Now(),
	}
}

// NewIncrementalTask creates a task for one changed item
func NewIncrementalTask(tenantID uuid.UUID, entityType catalog.EntityType, upstreamID string, action ItemAction, version int64) Task {
	return Task{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Mode:       SyncModeIncremental,
		EntityType: entityType,
		UpstreamID: upstreamID,
		Action:     action,
		Version:    version,
		EnqueuedAt: time.Now(),
	}
}

// Validate checks the task is executable
func (t Task) Validate() error {
	if t.TenantID == uuid.Nil {
		return fmt.Errorf("%w: missing tenant", ErrInvalidTask)
	}
	if !t.Mode.IsValid() {
		return fmt.Errorf("%w: mode %q", ErrInvalidTask, t.Mode)
	}
	if t.Mode == SyncModeIncremental && !t.EntityType.IsValid() {
		return fmt.Errorf("%w: incremental task without entity type", ErrInvalidTask)
	}
	if t.UpstreamID != "" && t.Mode != SyncModeIncremental {
		return fmt.Errorf("%w: %s task cannot target a single item", ErrInvalidTask, t.Mode)
	}
	return nil
}

// Supersedes reports whether running t makes other redundant.
// A Full task supersedes every Incremental task of the tenant; an Incremental
// task for a whole entity type supersedes single-item tasks of that type. For
// one item, t supersedes other only if t fetches whenever other would: a task
// announcing an older version may stop at the ledger check and never fetch.
func (t Task) Supersedes(other Task) bool {
	if t.TenantID != other.TenantID {
		return false
	}
	if t.Mode.IsFull() {
		return true
	}
	if other.Mode.IsFull() {
		return false
	}
	if t.EntityType != other.EntityType {
		return false
	}
	if t.UpstreamID == "" {
		return true
	}
	if t.UpstreamID != other.UpstreamID {
		return false
	}
	if t.alwaysFetches() {
		return true
	}
	return !other.alwaysFetches() && t.Version >= other.Version
}

// alwaysFetches reports whether an item task skips the ledger shortcut
func (t Task) alwaysFetches() bool {
	return t.Version <= 0 || t.Action == ItemActionDelete
}

// ---------------------------------------------------------------------------
// Task State
// ---------------------------------------------------------------------------

// TaskState is the per-tenant orchestrator state
type TaskState string

const (
	StateIdle        TaskState = "IDLE"
	StateFetching    TaskState = "FETCHING"
	StateApplying    TaskState = "APPLYING"
	StateReconciling TaskState = "RECONCILING"
	StateCompleted   TaskState = "COMPLETED"
	StateFailed      TaskState = "FAILED"
)

// IsRunning reports whether the state is one of the Running sub-states
func (s TaskState) IsRunning() bool {
	return s == StateFetching || s == StateApplying || s == StateReconciling
}

// Result summarises the effect of one task execution
type Result struct {
	TaskID     uuid.UUID          `json:"task_id"`
	TenantID   uuid.UUID          `json:"tenant_id"`
	Mode       SyncMode           `json:"mode"`
	State      TaskState          `json:"state"`
	Attempt    int                `json:"attempt"`
	Applied    int                `json:"applied"`
	Unchanged  int                `json:"unchanged"`
	Deleted    int                `json:"deleted"`
	Skipped    int                `json:"skipped"`
	Dropped    int                `json:"dropped_category_links"`
	ByType     map[string]int     `json:"applied_by_type,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	EntityType catalog.EntityType `json:"entity_type,omitempty"`
}

// Duration returns how long the execution took
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
