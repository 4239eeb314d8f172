package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

var signingKey = []byte("test-signing-key")

type mockShopFinder struct {
	mock.Mock
}

func (m *mockShopFinder) FindByID(ctx context.Context, id uuid.UUID) (*shop.Shop, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*shop.Shop), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []integration.Task
	err   error
}

func (r *recordingSubmitter) Submit(task integration.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

func sign(upstreamShopID string, body []byte) string {
	secret := integration.DeriveWebhookSecret(signingKey, upstreamShopID)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestIngestor(t *testing.T) (*Ingestor, *shop.Shop, *recordingSubmitter) {
	t.Helper()
	s, err := shop.NewShop("shop-42", "eu1", "pl_PL")
	require.NoError(t, err)

	shops := new(mockShopFinder)
	shops.On("FindByID", mock.Anything, s.ID).Return(s, nil)
	shops.On("FindByID", mock.Anything, mock.Anything).Return(nil, shop.ErrShopNotFound)

	sub := &recordingSubmitter{}
	return NewIngestor(IngestorConfig{
		Shops:      shops,
		Submitter:  sub,
		SigningKey: signingKey,
	}), s, sub
}

func TestIngestor_AcceptQueuesItemTask(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	body := []byte(`{"itemGroup":"products","itemAction":"update","payload":{"id":1002,"version":7}}`)

	res, err := ing.Accept(context.Background(), s.ID, body, sign(s.UpstreamShopID, body))
	require.NoError(t, err)
	assert.Equal(t, catalog.EntityTypeProduct, res.EntityType)
	assert.Equal(t, "1002", res.UpstreamID)

	require.Len(t, sub.tasks, 1)
	task := sub.tasks[0]
	assert.Equal(t, res.TaskID, task.ID)
	assert.Equal(t, s.ID, task.TenantID)
	assert.Equal(t, integration.SyncModeIncremental, task.Mode)
	assert.Equal(t, integration.ItemActionUpdate, task.Action)
	assert.Equal(t, int64(7), task.Version)
	assert.NoError(t, task.Validate())
}

func TestIngestor_DuplicateDeliveriesAreAccepted(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	body := []byte(`{"itemGroup":"variants","itemAction":"update","payload":{"id":"v-1","version":3}}`)
	sig := sign(s.UpstreamShopID, body)

	for i := 0; i < 3; i++ {
		_, err := ing.Accept(context.Background(), s.ID, body, sig)
		require.NoError(t, err)
	}
	assert.Len(t, sub.tasks, 3)
}

func TestIngestor_VersionFromUpdatedAt(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	body := []byte(`{"itemGroup":"pages","itemAction":"create","payload":{"id":"about","updated_at":"2024-03-01T10:00:00Z"}}`)

	_, err := ing.Accept(context.Background(), s.ID, body, sign(s.UpstreamShopID, body))
	require.NoError(t, err)
	require.Len(t, sub.tasks, 1)
	assert.Equal(t, int64(1709287200000), sub.tasks[0].Version)
	assert.Equal(t, integration.ItemActionCreate, sub.tasks[0].Action)
}

func TestIngestor_PayloadWithoutIDCoversGroup(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	body := []byte(`{"itemGroup":"categories","itemAction":"bulk_update"}`)

	res, err := ing.Accept(context.Background(), s.ID, body, sign(s.UpstreamShopID, body))
	require.NoError(t, err)
	assert.Empty(t, res.UpstreamID)
	require.Len(t, sub.tasks, 1)
	assert.Equal(t, catalog.EntityTypeCategory, sub.tasks[0].EntityType)
	assert.Equal(t, integration.ItemActionUpdate, sub.tasks[0].Action)
}

func TestIngestor_Rejections(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	valid := []byte(`{"itemGroup":"products","itemAction":"update","payload":{"id":1}}`)

	tests := []struct {
		name     string
		tenantID uuid.UUID
		body     []byte
		sig      string
		want     error
	}{
		{"missing signature", s.ID, valid, "", ErrMissingSignature},
		{"wrong signature", s.ID, valid, sign("other-shop", valid), ErrInvalidSignature},
		{"signature not hex", s.ID, valid, "zz", ErrInvalidSignature},
		{"unknown shop", uuid.New(), valid, sign(s.UpstreamShopID, valid), ErrUnknownShop},
		{"not json", s.ID, []byte(`{`), sign(s.UpstreamShopID, []byte(`{`)), ErrMalformedEvent},
		{
			"unknown group", s.ID,
			[]byte(`{"itemGroup":"orders","itemAction":"update"}`),
			sign(s.UpstreamShopID, []byte(`{"itemGroup":"orders","itemAction":"update"}`)),
			ErrMalformedEvent,
		},
		{
			"missing action", s.ID,
			[]byte(`{"itemGroup":"products"}`),
			sign(s.UpstreamShopID, []byte(`{"itemGroup":"products"}`)),
			ErrMalformedEvent,
		},
		{
			"delete without id", s.ID,
			[]byte(`{"itemGroup":"products","itemAction":"delete","payload":{}}`),
			sign(s.UpstreamShopID, []byte(`{"itemGroup":"products","itemAction":"delete","payload":{}}`)),
			ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ing.Accept(context.Background(), tt.tenantID, tt.body, tt.sig)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, sub.tasks)
}

func TestIngestor_RejectsUninstalledShop(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	s.Uninstall()
	body := []byte(`{"itemGroup":"products","itemAction":"update","payload":{"id":1}}`)

	_, err := ing.Accept(context.Background(), s.ID, body, sign(s.UpstreamShopID, body))
	assert.ErrorIs(t, err, ErrUnknownShop)
	assert.Empty(t, sub.tasks)
}

func TestIngestor_QueueFullIsUnavailable(t *testing.T) {
	ing, s, sub := newTestIngestor(t)
	sub.err = integration.ErrQueueFull
	body := []byte(`{"itemGroup":"products","itemAction":"update","payload":{"id":1}}`)

	_, err := ing.Accept(context.Background(), s.ID, body, sign(s.UpstreamShopID, body))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestIngestor_RepositoryErrorIsNotARejection(t *testing.T) {
	shops := new(mockShopFinder)
	shops.On("FindByID", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	ing := NewIngestor(IngestorConfig{Shops: shops, Submitter: &recordingSubmitter{}, SigningKey: signingKey})

	_, err := ing.Accept(context.Background(), uuid.New(), []byte(`{}`), "00")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownShop)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
}
