package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/infrastructure/persistence/models"
	"github.com/shopsync/backend/internal/infrastructure/persistence/tenant"
)

// GormIdempotencyLedger implements integration.IdempotencyLedger on the
// idempotency_records table. RecordApplied is a single conditional upsert,
// so concurrent writers of the same key cannot both succeed.
type GormIdempotencyLedger struct {
	db *gorm.DB
}

// NewGormIdempotencyLedger creates a new ledger
func NewGormIdempotencyLedger(db *gorm.DB) *GormIdempotencyLedger {
	return &GormIdempotencyLedger{db: db}
}

func (l *GormIdempotencyLedger) scoped(ctx context.Context, key integration.LedgerKey) (*gorm.DB, error) {
	if key.TenantID == uuid.Nil {
		return nil, catalog.ErrMissingTenant
	}
	return l.db.WithContext(tenant.WithTenant(ctx, key.TenantID)), nil
}

// ShouldApply reports whether version is strictly newer than the recorded one
func (l *GormIdempotencyLedger) ShouldApply(ctx context.Context, key integration.LedgerKey, version int64) (bool, error) {
	db, err := l.scoped(ctx, key)
	if err != nil {
		return false, err
	}
	var record models.IdempotencyRecordModel
	err = db.Where("tenant_id = ? AND entity_type = ? AND upstream_id = ?", key.TenantID, key.EntityType, key.UpstreamID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read ledger: %w", err)
	}
	return version > record.Version, nil
}

// RecordApplied stores version unless an equal or newer version is already recorded
func (l *GormIdempotencyLedger) RecordApplied(ctx context.Context, key integration.LedgerKey, version int64, appliedAt time.Time) error {
	db, err := l.scoped(ctx, key)
	if err != nil {
		return err
	}
	record := models.IdempotencyRecordModel{
		TenantID:   key.TenantID,
		EntityType: key.EntityType,
		UpstreamID: key.UpstreamID,
		Version:    version,
		AppliedAt:  appliedAt,
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_type"}, {Name: "upstream_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "applied_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency_records.version < excluded.version"},
		}},
	}).Create(&record)
	if res.Error != nil {
		return fmt.Errorf("failed to write ledger: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s v%d", integration.ErrLedgerConflict, key.EntityType, key.UpstreamID, version)
	}
	return nil
}

// Forget removes the record of a deleted entity
func (l *GormIdempotencyLedger) Forget(ctx context.Context, key integration.LedgerKey) error {
	db, err := l.scoped(ctx, key)
	if err != nil {
		return err
	}
	return db.Where("tenant_id = ? AND entity_type = ? AND upstream_id = ?", key.TenantID, key.EntityType, key.UpstreamID).
		Delete(&models.IdempotencyRecordModel{}).Error
}

var _ integration.IdempotencyLedger = (*GormIdempotencyLedger)(nil)

// ---------------------------------------------------------------------------
// Unit of work
// ---------------------------------------------------------------------------

// GormUnitOfWork runs ledger and catalog writes in one tenant-scoped
// transaction. On PostgreSQL the transaction also sets app.tenant_id, which
// the row level security policies of the catalog tables check.
type GormUnitOfWork struct {
	db    *gorm.DB
	store *GormCatalogStore
}

// NewGormUnitOfWork creates a unit of work sharing store's search profile cache
func NewGormUnitOfWork(db *gorm.DB, store *GormCatalogStore) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, store: store}
}

// InTenantTx implements integration.UnitOfWork
func (u *GormUnitOfWork) InTenantTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, ledger integration.IdempotencyLedger, store catalog.Store) error) error {
	if tenantID == uuid.Nil {
		return catalog.ErrMissingTenant
	}
	ctx = tenant.WithTenant(ctx, tenantID)
	var store *GormCatalogStore
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if IsPostgres(tx) {
			if err := tx.Exec("SELECT set_config('app.tenant_id', ?, true)", tenantID.String()).Error; err != nil {
				return fmt.Errorf("failed to bind tenant to transaction: %w", err)
			}
		}
		store = u.store.WithTx(tx)
		return fn(ctx, NewGormIdempotencyLedger(tx), store)
	})
	if err != nil {
		return err
	}
	store.publishStaged()
	return nil
}

var _ integration.UnitOfWork = (*GormUnitOfWork)(nil)
