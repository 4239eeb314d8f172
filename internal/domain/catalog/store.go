package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store is the tenant-partitioned catalog persistence port.
//
// Every method is scoped to tenantID; implementations must enforce the scope
// independently of the caller. Upsert is keyed on (tenant, type, upstream id)
// and refreshes the entity's search document from the tenant's search profile.
type Store interface {
	// Upsert inserts or replaces the entity and returns it with its internal id.
	// Category parents are not linked here; see SetCategoryParents.
	Upsert(ctx context.Context, tenantID uuid.UUID, e Entity) (Entity, error)
	// Delete removes an entity. Deleting a product removes its variants.
	// Deleting a missing entity is not an error.
	Delete(ctx context.Context, tenantID uuid.UUID, entityType EntityType, upstreamID string) error
	// MarkSearchDirty schedules the entity's search vector for refresh.
	MarkSearchDirty(ctx context.Context, tenantID uuid.UUID, entityType EntityType, upstreamID string) error

	// CategoryLinks returns the stored parent link of every category
	CategoryLinks(ctx context.Context, tenantID uuid.UUID) ([]CategoryLink, error)
	// SetCategoryParents applies resolved links and returns how many changed.
	// Links to categories that are not stored are ignored.
	SetCategoryParents(ctx context.Context, tenantID uuid.UUID, links []CategoryLink) (int, error)

	// UpstreamIDs lists the upstream ids stored for an entity type
	UpstreamIDs(ctx context.Context, tenantID uuid.UUID, entityType EntityType) ([]string, error)
	// Count returns the number of stored entities of a type
	Count(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (int64, error)

	// SetSearchProfile installs the profile used to derive search documents and
	// reports whether it differs from the previous one.
	SetSearchProfile(ctx context.Context, tenantID uuid.UUID, profile SearchProfile) (bool, error)
}
