package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/infrastructure/persistence/models"
	"github.com/shopsync/backend/internal/infrastructure/persistence/tenant"
)

// GormCatalogStore implements catalog.Store using GORM. Each upsert writes
// the weighted search text of the row and flags it dirty; the SearchIndexer
// turns dirty rows into search vectors.
type GormCatalogStore struct {
	db       *gorm.DB
	profiles *profileCache
	// staged holds profiles written by a transaction-bound store until commit
	staged map[uuid.UUID]catalog.SearchProfile
	now    func() time.Time
}

// NewGormCatalogStore creates a new GormCatalogStore
func NewGormCatalogStore(db *gorm.DB) *GormCatalogStore {
	return &GormCatalogStore{
		db:       db,
		profiles: &profileCache{byTenant: make(map[uuid.UUID]catalog.SearchProfile)},
		now:      time.Now,
	}
}

// WithTx returns a store bound to tx that shares the profile cache. Profiles
// it writes reach the cache only through publishStaged, after commit.
func (s *GormCatalogStore) WithTx(tx *gorm.DB) *GormCatalogStore {
	return &GormCatalogStore{
		db:       tx,
		profiles: s.profiles,
		staged:   make(map[uuid.UUID]catalog.SearchProfile),
		now:      s.now,
	}
}

// publishStaged moves profiles written in a committed transaction to the cache
func (s *GormCatalogStore) publishStaged() {
	for tenantID, p := range s.staged {
		s.profiles.put(tenantID, p)
	}
	clear(s.staged)
}

func (s *GormCatalogStore) scoped(ctx context.Context, tenantID uuid.UUID) (*gorm.DB, error) {
	if tenantID == uuid.Nil {
		return nil, catalog.ErrMissingTenant
	}
	return s.db.WithContext(tenant.WithTenant(ctx, tenantID)), nil
}

type rowRef struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

func findRef(db *gorm.DB, table string, tenantID uuid.UUID, upstreamID string) (*rowRef, error) {
	var ref rowRef
	err := db.Table(table).
		Select("id", "created_at").
		Where("tenant_id = ? AND upstream_id = ?", tenantID, upstreamID).
		Take(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Upsert inserts or replaces e keyed on (tenant, upstream id)
func (s *GormCatalogStore) Upsert(ctx context.Context, tenantID uuid.UUID, e catalog.Entity) (catalog.Entity, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	row, ok := models.RowFromDomain(tenantID, e)
	if !ok {
		return nil, catalog.ErrInvalidEntityType
	}
	table, _ := models.TableFor(e.Type())

	if v, isVariant := row.(*models.VariantModel); isVariant {
		product, err := findRef(db, models.ProductModel{}.TableName(), tenantID, v.ProductUpstreamID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, fmt.Errorf("%w: variant %s references product %s", catalog.ErrOrphanVariant, v.UpstreamID, v.ProductUpstreamID)
		}
		v.ProductID = product.ID
	}

	profile, err := s.profile(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	row.Search().SetDocument(profile.Document(e))

	existing, err := findRef(db, table, tenantID, e.GetHeader().UpstreamID)
	if err != nil {
		return nil, err
	}
	base := row.Base()
	now := s.now()
	base.UpdatedAt = now
	if existing == nil {
		base.ID = uuid.New()
		base.CreatedAt = now
		if err := db.Create(row).Error; err != nil {
			return nil, fmt.Errorf("failed to insert %s %s: %w", e.Type(), base.UpstreamID, err)
		}
	} else {
		base.ID = existing.ID
		base.CreatedAt = existing.CreatedAt
		tx := db
		if _, isCategory := row.(*models.CategoryModel); isCategory {
			// accepted parent links are owned by SetCategoryParents
			tx = tx.Omit("parent_upstream_id", "parent_id")
		}
		if err := tx.Save(row).Error; err != nil {
			return nil, fmt.Errorf("failed to update %s %s: %w", e.Type(), base.UpstreamID, err)
		}
	}

	stored := row.Entity()
	if c, isCategory := stored.(*catalog.Category); isCategory {
		c.ParentUpstreamID = e.(*catalog.Category).ParentUpstreamID
	}
	return stored, nil
}

// Delete removes an entity. Variants go with their product; child
// categories of a deleted category become roots.
func (s *GormCatalogStore) Delete(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, upstreamID string) error {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return err
	}
	row, ok := models.NewModelFor(entityType)
	if !ok {
		return catalog.ErrInvalidEntityType
	}

	switch entityType {
	case catalog.EntityTypeProduct:
		if err := db.Where("tenant_id = ? AND product_upstream_id = ?", tenantID, upstreamID).
			Delete(&models.VariantModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete variants of product %s: %w", upstreamID, err)
		}
	case catalog.EntityTypeCategory:
		if err := db.Model(&models.CategoryModel{}).
			Where("tenant_id = ? AND parent_upstream_id = ?", tenantID, upstreamID).
			Updates(map[string]any{"parent_upstream_id": "", "parent_id": nil, "updated_at": s.now()}).Error; err != nil {
			return fmt.Errorf("failed to detach children of category %s: %w", upstreamID, err)
		}
	}

	if err := db.Where("tenant_id = ? AND upstream_id = ?", tenantID, upstreamID).Delete(row).Error; err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, upstreamID, err)
	}
	return nil
}

// MarkSearchDirty rebuilds the stored search text of an entity from the
// current profile and flags it for vector refresh
func (s *GormCatalogStore) MarkSearchDirty(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, upstreamID string) error {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return err
	}
	row, ok := models.NewModelFor(entityType)
	if !ok {
		return catalog.ErrInvalidEntityType
	}
	err = db.Where("tenant_id = ? AND upstream_id = ?", tenantID, upstreamID).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	profile, err := s.profile(ctx, tenantID)
	if err != nil {
		return err
	}
	doc := profile.Document(row.Entity())
	return db.Model(row).
		Where("tenant_id = ? AND id = ?", tenantID, row.Base().ID).
		Updates(models.SearchUpdates(doc)).Error
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// CategoryLinks returns the parent each stored category claims upstream
func (s *GormCatalogStore) CategoryLinks(ctx context.Context, tenantID uuid.UUID) ([]catalog.CategoryLink, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var rows []models.CategoryModel
	if err := db.Select("upstream_id", "claimed_parent_upstream_id").
		Where("tenant_id = ?", tenantID).
		Order("upstream_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	links := make([]catalog.CategoryLink, len(rows))
	for i, r := range rows {
		links[i] = catalog.CategoryLink{UpstreamID: r.UpstreamID, ParentUpstreamID: r.ClaimedParentUpstreamID}
	}
	return links, nil
}

// SetCategoryParents applies resolved links. A parent that is not stored
// leaves the category as a root.
func (s *GormCatalogStore) SetCategoryParents(ctx context.Context, tenantID uuid.UUID, links []catalog.CategoryLink) (int, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	var rows []models.CategoryModel
	if err := db.Select("id", "upstream_id", "parent_upstream_id", "parent_id").
		Where("tenant_id = ?", tenantID).
		Find(&rows).Error; err != nil {
		return 0, err
	}
	byUpstream := make(map[string]*models.CategoryModel, len(rows))
	for i := range rows {
		byUpstream[rows[i].UpstreamID] = &rows[i]
	}

	changed := 0
	now := s.now()
	for _, link := range links {
		row, ok := byUpstream[link.UpstreamID]
		if !ok {
			continue
		}
		parentUpstream := ""
		var parentID *uuid.UUID
		if parent, ok := byUpstream[link.ParentUpstreamID]; ok && link.ParentUpstreamID != link.UpstreamID {
			parentUpstream = parent.UpstreamID
			id := parent.ID
			parentID = &id
		}
		if row.ParentUpstreamID == parentUpstream && sameID(row.ParentID, parentID) {
			continue
		}
		if err := db.Model(&models.CategoryModel{}).
			Where("tenant_id = ? AND id = ?", tenantID, row.ID).
			Updates(map[string]any{"parent_upstream_id": parentUpstream, "parent_id": parentID, "updated_at": now}).Error; err != nil {
			return changed, fmt.Errorf("failed to link category %s: %w", link.UpstreamID, err)
		}
		row.ParentUpstreamID = parentUpstream
		row.ParentID = parentID
		changed++
	}
	return changed, nil
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// UpstreamIDs lists the stored upstream ids of a type
func (s *GormCatalogStore) UpstreamIDs(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType) ([]string, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	row, ok := models.NewModelFor(entityType)
	if !ok {
		return nil, catalog.ErrInvalidEntityType
	}
	var ids []string
	if err := db.Model(row).Where("tenant_id = ?", tenantID).Order("upstream_id ASC").Pluck("upstream_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of stored entities of a type
func (s *GormCatalogStore) Count(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType) (int64, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	row, ok := models.NewModelFor(entityType)
	if !ok {
		return 0, catalog.ErrInvalidEntityType
	}
	var n int64
	if err := db.Model(row).Where("tenant_id = ?", tenantID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Get loads a stored entity
func (s *GormCatalogStore) Get(ctx context.Context, tenantID uuid.UUID, entityType catalog.EntityType, upstreamID string) (catalog.Entity, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	row, ok := models.NewModelFor(entityType)
	if !ok {
		return nil, catalog.ErrInvalidEntityType
	}
	if err := db.Where("tenant_id = ? AND upstream_id = ?", tenantID, upstreamID).Take(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrEntityNotFound
		}
		return nil, err
	}
	return row.Entity(), nil
}

// ---------------------------------------------------------------------------
// Search profile
// ---------------------------------------------------------------------------

type profileCache struct {
	mu       sync.RWMutex
	byTenant map[uuid.UUID]catalog.SearchProfile
}

func (c *profileCache) get(tenantID uuid.UUID) (catalog.SearchProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byTenant[tenantID]
	return p, ok
}

func (c *profileCache) put(tenantID uuid.UUID, p catalog.SearchProfile) {
	c.mu.Lock()
	c.byTenant[tenantID] = p
	c.mu.Unlock()
}

// SetSearchProfile records the profile used for search documents and
// reports whether it changed
func (s *GormCatalogStore) SetSearchProfile(ctx context.Context, tenantID uuid.UUID, profile catalog.SearchProfile) (bool, error) {
	db, err := s.scoped(ctx, tenantID)
	if err != nil {
		return false, err
	}
	current, err := s.profile(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if current.Fingerprint() == profile.Fingerprint() {
		return false, nil
	}

	fields, err := json.Marshal(profile.Fields())
	if err != nil {
		return false, err
	}
	record := models.SearchProfileModel{
		TenantID:    tenantID,
		Fingerprint: profile.Fingerprint(),
		Fields:      string(fields),
		UpdatedAt:   s.now(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fingerprint", "fields", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return false, fmt.Errorf("failed to save search profile: %w", err)
	}
	if s.staged != nil {
		s.staged[tenantID] = profile
	} else {
		s.profiles.put(tenantID, profile)
	}
	return true, nil
}

func (s *GormCatalogStore) profile(ctx context.Context, tenantID uuid.UUID) (catalog.SearchProfile, error) {
	if p, ok := s.staged[tenantID]; ok {
		return p, nil
	}
	if p, ok := s.profiles.get(tenantID); ok {
		return p, nil
	}
	var record models.SearchProfileModel
	err := s.db.WithContext(tenant.WithTenant(ctx, tenantID)).
		Where("tenant_id = ?", tenantID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p := catalog.DefaultSearchProfile()
		s.profiles.put(tenantID, p)
		return p, nil
	}
	if err != nil {
		return catalog.SearchProfile{}, err
	}

	var settings []catalog.SearchFieldSetting
	if err := json.Unmarshal([]byte(record.Fields), &settings); err != nil {
		return catalog.SearchProfile{}, fmt.Errorf("corrupt search profile of tenant %s: %w", tenantID, err)
	}
	p, err := catalog.NewSearchProfile(settings)
	if err != nil {
		return catalog.SearchProfile{}, err
	}
	s.profiles.put(tenantID, p)
	return p, nil
}

var _ catalog.Store = (*GormCatalogStore)(nil)
