package integration

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/shopsync/backend/internal/domain/catalog"
)

func TestTask_Supersedes(t *testing.T) {
	tenant := uuid.New()
	full := NewFullTask(tenant, SyncModeFull)
	reconcile := NewFullTask(tenant, SyncModeReconcile)
	p1 := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "1", ItemActionUpdate, 1)
	p1v2 := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "1", ItemActionDelete, 2)
	p2 := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "2", ItemActionUpdate, 1)
	allProducts := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "", ItemActionUpdate, 0)
	page := NewIncrementalTask(tenant, catalog.EntityTypePage, "1", ItemActionUpdate, 1)
	otherTenant := NewIncrementalTask(uuid.New(), catalog.EntityTypeProduct, "1", ItemActionUpdate, 1)

	assert.True(t, full.Supersedes(p1))
	assert.True(t, full.Supersedes(reconcile))
	assert.True(t, reconcile.Supersedes(full))
	assert.False(t, full.Supersedes(otherTenant))
	assert.False(t, p1.Supersedes(full))

	assert.True(t, p1v2.Supersedes(p1))
	assert.False(t, p1.Supersedes(p2))
	assert.False(t, p1.Supersedes(page))
	assert.True(t, allProducts.Supersedes(p2))
	assert.False(t, p2.Supersedes(allProducts))
}

func TestTask_SupersedesSameItemByVersion(t *testing.T) {
	tenant := uuid.New()
	v2 := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "2", ItemActionUpdate, 2)
	v3 := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "2", ItemActionUpdate, 3)
	v3again := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "2", ItemActionUpdate, 3)
	unversioned := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "2", ItemActionUpdate, 0)
	deleted := NewIncrementalTask(tenant, catalog.EntityTypeProduct, "2", ItemActionDelete, 1)

	assert.True(t, v3.Supersedes(v2))
	assert.False(t, v2.Supersedes(v3), "an older announcement could stop at the ledger check")
	assert.True(t, v3again.Supersedes(v3))

	assert.True(t, unversioned.Supersedes(v3))
	assert.False(t, v3.Supersedes(unversioned))
	assert.True(t, deleted.Supersedes(v3))
	assert.False(t, v3.Supersedes(deleted))
}

func TestTask_Validate(t *testing.T) {
	tenant := uuid.New()

	assert.NoError(t, NewFullTask(tenant, SyncModeReconcile).Validate())
	assert.NoError(t, NewIncrementalTask(tenant, catalog.EntityTypeVariant, "v1", ItemActionCreate, 3).Validate())
	assert.ErrorIs(t, Task{Mode: SyncModeFull}.Validate(), ErrInvalidTask)
	assert.ErrorIs(t, Task{TenantID: tenant, Mode: "PARTIAL"}.Validate(), ErrInvalidTask)
	assert.ErrorIs(t, Task{TenantID: tenant, Mode: SyncModeIncremental}.Validate(), ErrInvalidTask)
	assert.ErrorIs(t, Task{TenantID: tenant, Mode: SyncModeFull, UpstreamID: "1"}.Validate(), ErrInvalidTask)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("%w: status 503", ErrUpstreamUnavailable)))
	assert.True(t, IsRetryable(ErrRateLimitExceeded))
	assert.False(t, IsRetryable(ErrUpstreamRejected))

	assert.True(t, errors.Is(ErrUpstreamNotFound, ErrUpstreamRejected))
	assert.True(t, IsItemLevel(NewItemError(catalog.EntityTypeProduct, "7", ErrUpstreamNotFound)))
	assert.True(t, IsItemLevel(fmt.Errorf("apply: %w", catalog.ErrOrphanVariant)))
	assert.False(t, IsItemLevel(ErrUpstreamUnavailable))

	ie := NewItemError(catalog.EntityTypePage, "9", ErrUpstreamRejected)
	assert.Equal(t, "pages 9: integration: upstream rejected request", ie.Error())
}

func TestParseItemAction(t *testing.T) {
	assert.Equal(t, ItemActionDelete, ParseItemAction("delete"))
	assert.Equal(t, ItemActionCreate, ParseItemAction("create"))
	assert.Equal(t, ItemActionUpdate, ParseItemAction("stock_changed"))
}

func TestDeriveWebhookSecret(t *testing.T) {
	a := DeriveWebhookSecret([]byte("key"), "shop-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, DeriveWebhookSecret([]byte("key"), "shop-1"))
	assert.NotEqual(t, a, DeriveWebhookSecret([]byte("key"), "shop-2"))
}
