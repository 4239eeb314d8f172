package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/backend/internal/application/catalogsync"
	"github.com/shopsync/backend/internal/application/tenancy"
	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
	"github.com/shopsync/backend/internal/interfaces/http/dto"
)

type mockTenancyService struct {
	mock.Mock
}

func (m *mockTenancyService) Install(ctx context.Context, in tenancy.InstallInput) (*tenancy.InstallResult, error) {
	args := m.Called(ctx, in)
	if r := args.Get(0); r != nil {
		return r.(*tenancy.InstallResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenancyService) Uninstall(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func (m *mockTenancyService) SyncStatus(ctx context.Context, tenantID uuid.UUID) (*tenancy.SyncStatusDTO, error) {
	args := m.Called(ctx, tenantID)
	if r := args.Get(0); r != nil {
		return r.(*tenancy.SyncStatusDTO), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenancyService) TriggerSync(ctx context.Context, tenantID uuid.UUID) (*tenancy.TriggerResult, error) {
	args := m.Called(ctx, tenantID)
	if r := args.Get(0); r != nil {
		return r.(*tenancy.TriggerResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenancyService) RecentTasks(tenantID *uuid.UUID, limit int) []integration.Result {
	args := m.Called(tenantID, limit)
	if r := args.Get(0); r != nil {
		return r.([]integration.Result)
	}
	return nil
}

func (m *mockTenancyService) SearchFields(ctx context.Context, tenantID uuid.UUID) ([]catalog.SearchFieldSetting, error) {
	args := m.Called(ctx, tenantID)
	if r := args.Get(0); r != nil {
		return r.([]catalog.SearchFieldSetting), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenancyService) UpdateSearchFields(ctx context.Context, tenantID uuid.UUID, settings []catalog.SearchFieldSetting) (*tenancy.TriggerResult, error) {
	args := m.Called(ctx, tenantID, settings)
	if r := args.Get(0); r != nil {
		return r.(*tenancy.TriggerResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func newShopRouter(svc TenancyService) *gin.Engine {
	h := NewShopHandler(svc)
	r := gin.New()
	r.POST("/install", h.Install)
	r.POST("/shops/:shop_id/uninstall", h.Uninstall)
	r.GET("/shops/:shop_id/sync", h.GetSyncStatus)
	r.POST("/shops/:shop_id/sync", h.TriggerSync)
	r.GET("/sync/tasks", h.ListTasks)
	r.GET("/shops/:shop_id/search-fields", h.GetSearchFields)
	r.PUT("/shops/:shop_id/search-fields", h.UpdateSearchFields)
	return r
}

func serve(r *gin.Engine, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var validHash = strings.Repeat("ab", 64)

// ---------------------------------------------------------------------------
// Install
// ---------------------------------------------------------------------------

func TestShopHandler_InstallJSON(t *testing.T) {
	svc := new(mockTenancyService)
	tenantID := uuid.New()
	want := tenancy.InstallInput{
		ShopID: "shop-42", Language: "pl_PL", Timestamp: "1700000000",
		Token: "tok", Hash: validHash, Cluster: "eu1",
	}
	svc.On("Install", mock.Anything, want).Return(&tenancy.InstallResult{TenantID: tenantID}, nil)

	body := `{"shop_id":"shop-42","language":"pl_PL","timestamp":"1700000000","token":"tok","hash":"` +
		validHash + `","cluster":"eu1"}`
	w := serve(newShopRouter(svc), http.MethodPost, "/install", "application/json", []byte(body))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, tenantID.String(), data["tenant_id"])
	svc.AssertExpectations(t)
}

func TestShopHandler_InstallForm(t *testing.T) {
	svc := new(mockTenancyService)
	svc.On("Install", mock.Anything, mock.MatchedBy(func(in tenancy.InstallInput) bool {
		return in.ShopID == "shop-7" && in.Cluster == "us1"
	})).Return(&tenancy.InstallResult{TenantID: uuid.New()}, nil)

	form := url.Values{
		"shop_id": {"shop-7"}, "language": {"en_US"}, "timestamp": {"1700000000"},
		"token": {"tok"}, "hash": {validHash}, "cluster": {"us1"},
	}
	w := serve(newShopRouter(svc), http.MethodPost, "/install",
		"application/x-www-form-urlencoded", []byte(form.Encode()))

	assert.Equal(t, http.StatusCreated, w.Code)
	svc.AssertExpectations(t)
}

func TestShopHandler_InstallValidation(t *testing.T) {
	svc := new(mockTenancyService)
	body := `{"shop_id":"shop-42","language":"pl_PL","timestamp":"soon","token":"tok","hash":"xyz","cluster":"eu1"}`

	w := serve(newShopRouter(svc), http.MethodPost, "/install", "application/json", []byte(body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	fields := make([]string, 0, len(resp.Error.Details))
	for _, d := range resp.Error.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"timestamp", "hash"}, fields)
	svc.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
}

func TestShopHandler_InstallRejected(t *testing.T) {
	svc := new(mockTenancyService)
	svc.On("Install", mock.Anything, mock.Anything).Return(nil, tenancy.ErrInstallRejected)

	body := `{"shop_id":"shop-42","language":"pl_PL","timestamp":"1700000000","token":"tok","hash":"` +
		validHash + `","cluster":"eu1"}`
	w := serve(newShopRouter(svc), http.MethodPost, "/install", "application/json", []byte(body))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidSignature, decodeResponse(t, w).Error.Code)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestShopHandler_Uninstall(t *testing.T) {
	tenantID := uuid.New()
	svc := new(mockTenancyService)
	svc.On("Uninstall", mock.Anything, tenantID).Return(nil)
	svc.On("Uninstall", mock.Anything, mock.Anything).Return(shop.ErrShopNotFound)
	r := newShopRouter(svc)

	w := serve(r, http.MethodPost, "/shops/"+tenantID.String()+"/uninstall", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, http.MethodPost, "/shops/"+uuid.NewString()+"/uninstall", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShopHandler_GetSyncStatus(t *testing.T) {
	tenantID := uuid.New()
	svc := new(mockTenancyService)
	svc.On("SyncStatus", mock.Anything, tenantID).Return(&tenancy.SyncStatusDTO{
		Shop:         tenancy.ShopDTO{ID: tenantID, Status: "SYNCING", Active: true},
		Orchestrator: catalogsync.TenantStatus{State: integration.StateApplying, Queued: 2},
	}, nil)

	w := serve(newShopRouter(svc), http.MethodGet, "/shops/"+tenantID.String()+"/sync", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]interface{})
	orch := data["orchestrator"].(map[string]interface{})
	assert.Equal(t, "APPLYING", orch["state"])
	assert.Equal(t, float64(2), orch["queued"])
}

func TestShopHandler_TriggerSync(t *testing.T) {
	tenantID := uuid.New()
	taskID := uuid.New()

	tests := []struct {
		name         string
		result       *tenancy.TriggerResult
		err          error
		expectedCode int
	}{
		{"queued", &tenancy.TriggerResult{TaskID: taskID, Mode: integration.SyncModeFull}, nil, http.StatusAccepted},
		{"inactive", nil, tenancy.ErrShopInactive, http.StatusUnprocessableEntity},
		{"queue full", nil, integration.ErrQueueFull, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockTenancyService)
			if tt.result != nil {
				svc.On("TriggerSync", mock.Anything, tenantID).Return(tt.result, nil)
			} else {
				svc.On("TriggerSync", mock.Anything, tenantID).Return(nil, tt.err)
			}

			w := serve(newShopRouter(svc), http.MethodPost, "/shops/"+tenantID.String()+"/sync", "", nil)

			assert.Equal(t, tt.expectedCode, w.Code)
		})
	}
}

func TestShopHandler_ListTasks(t *testing.T) {
	tenantID := uuid.New()
	svc := new(mockTenancyService)
	svc.On("RecentTasks", (*uuid.UUID)(nil), defaultTaskLimit).Return([]integration.Result{{TenantID: tenantID}})
	svc.On("RecentTasks", &tenantID, 5).Return(nil)
	r := newShopRouter(svc)

	w := serve(r, http.MethodGet, "/sync/tasks", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Len(t, resp.Data.([]interface{}), 1)
	assert.Equal(t, defaultTaskLimit, resp.Meta.Limit)

	w = serve(r, http.MethodGet, "/sync/tasks?limit=5&shop_id="+tenantID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeResponse(t, w).Data)

	w = serve(r, http.MethodGet, "/sync/tasks?limit=1000", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShopHandler_SearchFields(t *testing.T) {
	tenantID := uuid.New()
	path := "/shops/" + tenantID.String() + "/search-fields"
	settings := []catalog.SearchFieldSetting{
		{Field: catalog.SearchFieldCode, Enabled: true, Priority: 1},
		{Field: catalog.SearchFieldName, Enabled: false, Priority: 2},
	}

	svc := new(mockTenancyService)
	svc.On("SearchFields", mock.Anything, tenantID).Return(settings, nil)
	svc.On("UpdateSearchFields", mock.Anything, tenantID, settings).
		Return(&tenancy.TriggerResult{TaskID: uuid.New(), Mode: integration.SyncModeFull}, nil)
	r := newShopRouter(svc)

	w := serve(r, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeResponse(t, w).Data.([]interface{}), 2)

	body := `{"fields":[{"field":"code","enabled":true,"priority":1},{"field":"name","enabled":false,"priority":2}]}`
	w = serve(r, http.MethodPut, path, "application/json", []byte(body))
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]interface{})
	assert.NotNil(t, data["sync"])
	svc.AssertExpectations(t)

	t.Run("unknown field", func(t *testing.T) {
		body := `{"fields":[{"field":"color","enabled":true,"priority":1}]}`
		w := serve(r, http.MethodPut, path, "application/json", []byte(body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeResponse(t, w).Error.Code)
	})

	t.Run("empty list", func(t *testing.T) {
		w := serve(r, http.MethodPut, path, "application/json", []byte(`{"fields":[]}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
