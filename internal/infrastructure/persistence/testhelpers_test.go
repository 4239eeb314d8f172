package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shopsync/backend/internal/infrastructure/persistence/models"
	"github.com/shopsync/backend/internal/infrastructure/persistence/tenant"
)

// setupTestDB opens an in-memory SQLite database with every model migrated.
// A single connection keeps the in-memory database shared.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	all := append(models.CatalogModels(),
		&models.ShopModel{},
		&models.IdempotencyRecordModel{},
		&models.SearchFieldSettingModel{},
		&models.SearchProfileModel{},
	)
	require.NoError(t, db.AutoMigrate(all...))
	tenant.EnableAutoTenantFilter(db, false)
	return db
}
