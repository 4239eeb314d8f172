package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
)

func TestGormIdempotencyLedger(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewGormIdempotencyLedger(db)
	ctx := context.Background()
	key := integration.LedgerKey{TenantID: uuid.New(), EntityType: catalog.EntityTypeProduct, UpstreamID: "p1"}
	now := time.Now()

	apply, err := ledger.ShouldApply(ctx, key, 1)
	require.NoError(t, err)
	assert.True(t, apply, "unknown entity is always applied")

	require.NoError(t, ledger.RecordApplied(ctx, key, 1, now))

	apply, err = ledger.ShouldApply(ctx, key, 1)
	require.NoError(t, err)
	assert.False(t, apply, "equal version is a no-op")

	apply, err = ledger.ShouldApply(ctx, key, 0)
	require.NoError(t, err)
	assert.False(t, apply, "older version is a no-op")

	apply, err = ledger.ShouldApply(ctx, key, 2)
	require.NoError(t, err)
	assert.True(t, apply)

	t.Run("equal or older record conflicts", func(t *testing.T) {
		assert.ErrorIs(t, ledger.RecordApplied(ctx, key, 1, now), integration.ErrLedgerConflict)
		assert.ErrorIs(t, ledger.RecordApplied(ctx, key, 0, now), integration.ErrLedgerConflict)
	})

	t.Run("newer record wins", func(t *testing.T) {
		require.NoError(t, ledger.RecordApplied(ctx, key, 5, now))
		apply, err := ledger.ShouldApply(ctx, key, 4)
		require.NoError(t, err)
		assert.False(t, apply)
	})

	t.Run("keys are tenant scoped", func(t *testing.T) {
		other := key
		other.TenantID = uuid.New()
		apply, err := ledger.ShouldApply(ctx, other, 1)
		require.NoError(t, err)
		assert.True(t, apply)
	})

	t.Run("forget", func(t *testing.T) {
		require.NoError(t, ledger.Forget(ctx, key))
		apply, err := ledger.ShouldApply(ctx, key, 1)
		require.NoError(t, err)
		assert.True(t, apply)
	})
}

func TestGormUnitOfWork_RollsBackTogether(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormCatalogStore(db)
	uow := NewGormUnitOfWork(db, store)
	ctx := context.Background()
	tenantID := uuid.New()
	boom := errors.New("boom")

	err := uow.InTenantTx(ctx, tenantID, func(ctx context.Context, ledger integration.IdempotencyLedger, s catalog.Store) error {
		p, err := s.Upsert(ctx, tenantID, newProduct("p1", 3, "Mug"))
		if err != nil {
			return err
		}
		if err := ledger.RecordApplied(ctx, integration.LedgerKeyOf(tenantID, p), 3, time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := store.Count(ctx, tenantID, catalog.EntityTypeProduct)
	require.NoError(t, err)
	assert.Zero(t, n)

	apply, err := NewGormIdempotencyLedger(db).ShouldApply(ctx, integration.LedgerKey{TenantID: tenantID, EntityType: catalog.EntityTypeProduct, UpstreamID: "p1"}, 3)
	require.NoError(t, err)
	assert.True(t, apply)

	err = uow.InTenantTx(ctx, tenantID, func(ctx context.Context, ledger integration.IdempotencyLedger, s catalog.Store) error {
		p, err := s.Upsert(ctx, tenantID, newProduct("p1", 3, "Mug"))
		if err != nil {
			return err
		}
		return ledger.RecordApplied(ctx, integration.LedgerKeyOf(tenantID, p), 3, time.Now())
	})
	require.NoError(t, err)

	n, err = store.Count(ctx, tenantID, catalog.EntityTypeProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGormUnitOfWork_SearchProfileCachedOnlyOnCommit(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormCatalogStore(db)
	uow := NewGormUnitOfWork(db, store)
	ctx := context.Background()
	tenantID := uuid.New()
	boom := errors.New("boom")

	codeFirst, err := catalog.NewSearchProfile([]catalog.SearchFieldSetting{
		{Field: catalog.SearchFieldCode, Enabled: true, Priority: 1},
		{Field: catalog.SearchFieldName, Enabled: true, Priority: 2},
	})
	require.NoError(t, err)
	setProfile := func(ctx context.Context, _ integration.IdempotencyLedger, s catalog.Store) error {
		changed, err := s.SetSearchProfile(ctx, tenantID, codeFirst)
		if err != nil {
			return err
		}
		assert.True(t, changed)
		return nil
	}

	err = uow.InTenantTx(ctx, tenantID, func(ctx context.Context, ledger integration.IdempotencyLedger, s catalog.Store) error {
		if err := setProfile(ctx, ledger, s); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	if p, cached := store.profiles.get(tenantID); cached {
		assert.NotEqual(t, codeFirst.Fingerprint(), p.Fingerprint(), "rolled back profile reached the cache")
	}

	require.NoError(t, uow.InTenantTx(ctx, tenantID, setProfile))
	p, cached := store.profiles.get(tenantID)
	require.True(t, cached)
	assert.Equal(t, codeFirst.Fingerprint(), p.Fingerprint())

	changed, err := store.SetSearchProfile(ctx, tenantID, codeFirst)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestGormUnitOfWork_BindsTenantOnPostgres(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	tenantID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\('app.tenant_id', \$1, true\)`).
		WithArgs(tenantID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	uow := NewGormUnitOfWork(gormDB, NewGormCatalogStore(gormDB))
	err = uow.InTenantTx(context.Background(), tenantID, func(context.Context, integration.IdempotencyLedger, catalog.Store) error {
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, uow.InTenantTx(context.Background(), uuid.Nil, nil), catalog.ErrMissingTenant)
}

func TestGormIdempotencyLedger_ConditionalUpsertSQL(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	key := integration.LedgerKey{TenantID: uuid.New(), EntityType: catalog.EntityTypeVariant, UpstreamID: "v1"}
	mock.ExpectExec(`INSERT INTO "idempotency_records" .* ON CONFLICT \("tenant_id","entity_type","upstream_id"\) DO UPDATE SET .* WHERE idempotency_records.version < excluded.version`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewGormIdempotencyLedger(gormDB).RecordApplied(context.Background(), key, 7, time.Now())
	assert.ErrorIs(t, err, integration.ErrLedgerConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
