package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopsync/backend/internal/domain/shop"
	"github.com/shopsync/backend/internal/infrastructure/persistence/models"
)

// GormShopRepository implements shop.Repository using GORM
type GormShopRepository struct {
	db *gorm.DB
}

// NewGormShopRepository creates a new GormShopRepository
func NewGormShopRepository(db *gorm.DB) *GormShopRepository {
	return &GormShopRepository{db: db}
}

// FindByID finds a shop by its tenant id
func (r *GormShopRepository) FindByID(ctx context.Context, id uuid.UUID) (*shop.Shop, error) {
	var model models.ShopModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shop.ErrShopNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByUpstreamID finds a shop by the platform's shop id
func (r *GormShopRepository) FindByUpstreamID(ctx context.Context, upstreamShopID string) (*shop.Shop, error) {
	var model models.ShopModel
	if err := r.db.WithContext(ctx).First(&model, "upstream_shop_id = ?", upstreamShopID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shop.ErrShopNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListActive returns every installed shop
func (r *GormShopRepository) ListActive(ctx context.Context) ([]shop.Shop, error) {
	var shopModels []models.ShopModel
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("installed_at ASC").
		Find(&shopModels).Error; err != nil {
		return nil, err
	}
	shops := make([]shop.Shop, len(shopModels))
	for i, model := range shopModels {
		shops[i] = *model.ToDomain()
	}
	return shops, nil
}

// Save inserts or updates a shop
func (r *GormShopRepository) Save(ctx context.Context, s *shop.Shop) error {
	var model models.ShopModel
	model.FromDomain(s)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to save shop: %w", err)
	}
	return nil
}

// UpdateStatus writes only the sync columns
func (r *GormShopRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update shop.StatusUpdate) error {
	if !update.Status.IsValid() {
		return shop.ErrInvalidStatusChange
	}
	values := map[string]any{
		"status":     update.Status,
		"last_error": update.LastError,
	}
	if update.LastSyncAt != nil {
		values["last_sync_at"] = *update.LastSyncAt
	}
	res := r.db.WithContext(ctx).Model(&models.ShopModel{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shop.ErrShopNotFound
	}
	return nil
}

var _ shop.Repository = (*GormShopRepository)(nil)
