package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/infrastructure/persistence/models"
	"github.com/shopsync/backend/internal/infrastructure/persistence/tenant"
)

// GormSearchConfigRepository stores the search field settings tenants edit
// in the admin API
type GormSearchConfigRepository struct {
	db *gorm.DB
}

// NewGormSearchConfigRepository creates a new GormSearchConfigRepository
func NewGormSearchConfigRepository(db *gorm.DB) *GormSearchConfigRepository {
	return &GormSearchConfigRepository{db: db}
}

// SearchFields returns the settings of a tenant ordered by priority. An
// unconfigured tenant gets an empty list.
func (r *GormSearchConfigRepository) SearchFields(ctx context.Context, tenantID uuid.UUID) ([]catalog.SearchFieldSetting, error) {
	var rows []models.SearchFieldSettingModel
	if err := r.db.WithContext(tenant.WithTenant(ctx, tenantID)).
		Where("tenant_id = ?", tenantID).
		Order("priority ASC, field ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	settings := make([]catalog.SearchFieldSetting, len(rows))
	for i := range rows {
		settings[i] = rows[i].ToDomain()
	}
	return settings, nil
}

// ReplaceSearchFields validates settings and replaces the tenant's configuration
func (r *GormSearchConfigRepository) ReplaceSearchFields(ctx context.Context, tenantID uuid.UUID, settings []catalog.SearchFieldSetting) error {
	if _, err := catalog.NewSearchProfile(settings); err != nil {
		return err
	}
	now := time.Now()
	return r.db.WithContext(tenant.WithTenant(ctx, tenantID)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&models.SearchFieldSettingModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear search fields: %w", err)
		}
		if len(settings) == 0 {
			return nil
		}
		rows := make([]models.SearchFieldSettingModel, len(settings))
		for i, s := range settings {
			rows[i] = models.SearchFieldSettingModel{
				TenantID:  tenantID,
				Field:     s.Field,
				Enabled:   s.Enabled,
				Priority:  s.Priority,
				UpdatedAt: now,
			}
		}
		return tx.Create(&rows).Error
	})
}
