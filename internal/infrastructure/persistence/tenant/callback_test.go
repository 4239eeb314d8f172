package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopsync/backend/internal/domain/catalog"
)

type scopedRow struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID uuid.UUID `gorm:"type:uuid;not null"`
	Name     string
}

type globalRow struct {
	ID   uuid.UUID `gorm:"type:uuid;primary_key"`
	Name string
}

func setupCallbackDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&scopedRow{}, &globalRow{}))
	EnableAutoTenantFilter(db, false)
	return db
}

func TestTenantCallback_FiltersQueries(t *testing.T) {
	db := setupCallbackDB(t)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, db.Create(&scopedRow{ID: uuid.New(), TenantID: a, Name: "a"}).Error)
	require.NoError(t, db.Create(&scopedRow{ID: uuid.New(), TenantID: b, Name: "b"}).Error)

	var rows []scopedRow
	require.NoError(t, db.WithContext(WithTenant(context.Background(), a)).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Name)

	var all []scopedRow
	require.NoError(t, db.Find(&all).Error)
	assert.Len(t, all, 2, "no tenant in context means no filter when not required")
}

func TestTenantCallback_FiltersDeletes(t *testing.T) {
	db := setupCallbackDB(t)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, db.Create(&scopedRow{ID: uuid.New(), TenantID: a, Name: "x"}).Error)
	require.NoError(t, db.Create(&scopedRow{ID: uuid.New(), TenantID: b, Name: "x"}).Error)

	res := db.WithContext(WithTenant(context.Background(), a)).Where("name = ?", "x").Delete(&scopedRow{})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.RowsAffected)

	var count int64
	require.NoError(t, db.Model(&scopedRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTenantCallback_CreateCheck(t *testing.T) {
	db := setupCallbackDB(t)
	a := uuid.New()
	ctx := WithTenant(context.Background(), a)

	row := scopedRow{ID: uuid.New(), Name: "filled"}
	require.NoError(t, db.WithContext(ctx).Create(&row).Error)
	assert.Equal(t, a, row.TenantID)

	err := db.WithContext(ctx).Create(&scopedRow{ID: uuid.New(), TenantID: uuid.New(), Name: "foreign"}).Error
	assert.ErrorIs(t, err, catalog.ErrCrossTenantWrite)

	batch := []scopedRow{{ID: uuid.New(), TenantID: a}, {ID: uuid.New(), TenantID: uuid.New()}}
	err = db.WithContext(ctx).Create(&batch).Error
	assert.ErrorIs(t, err, catalog.ErrCrossTenantWrite)
}

func TestTenantCallback_SkipsGlobalTables(t *testing.T) {
	db := setupCallbackDB(t)
	require.NoError(t, db.Create(&globalRow{ID: uuid.New(), Name: "g"}).Error)

	var rows []globalRow
	require.NoError(t, db.WithContext(WithTenant(context.Background(), uuid.New())).Find(&rows).Error)
	assert.Len(t, rows, 1)
}

func TestTenantCallback_Required(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&scopedRow{}))
	EnableAutoTenantFilter(db, true)

	var rows []scopedRow
	err = db.WithContext(context.Background()).Find(&rows).Error
	assert.ErrorIs(t, err, ErrTenantIDRequired)

	DisableAutoTenantFilter(db)
	assert.NoError(t, db.WithContext(context.Background()).Find(&rows).Error)
}

func TestFromContext(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrTenantIDRequired)

	id := uuid.New()
	got, err := FromContext(WithTenant(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
