package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/application/tenancy"
	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/interfaces/http/dto"
	"github.com/shopsync/backend/internal/interfaces/http/middleware"
)

// TenancyService is implemented by *tenancy.Service
type TenancyService interface {
	Install(ctx context.Context, in tenancy.InstallInput) (*tenancy.InstallResult, error)
	Uninstall(ctx context.Context, tenantID uuid.UUID) error
	SyncStatus(ctx context.Context, tenantID uuid.UUID) (*tenancy.SyncStatusDTO, error)
	TriggerSync(ctx context.Context, tenantID uuid.UUID) (*tenancy.TriggerResult, error)
	RecentTasks(tenantID *uuid.UUID, limit int) []integration.Result
	SearchFields(ctx context.Context, tenantID uuid.UUID) ([]catalog.SearchFieldSetting, error)
	UpdateSearchFields(ctx context.Context, tenantID uuid.UUID, settings []catalog.SearchFieldSetting) (*tenancy.TriggerResult, error)
}

// defaultTaskLimit is used when a task listing has no limit parameter
const defaultTaskLimit = 50

// ShopHandler handles install and shop administration endpoints
type ShopHandler struct {
	BaseHandler
	service TenancyService
}

// NewShopHandler creates a new ShopHandler
func NewShopHandler(service TenancyService) *ShopHandler {
	return &ShopHandler{service: service}
}

// InstallRequest carries the platform's install callback. Every field except
// Cluster is covered by Hash.
type InstallRequest struct {
	ShopID    string `json:"shop_id" form:"shop_id" binding:"required,max=64"`
	Language  string `json:"language" form:"language" binding:"required,max=35"`
	Timestamp string `json:"timestamp" form:"timestamp" binding:"required,numeric"`
	Token     string `json:"token" form:"token" binding:"required,max=512"`
	Hash      string `json:"hash" form:"hash" binding:"required,hexadecimal,len=128"`
	Cluster   string `json:"cluster" form:"cluster" binding:"required,max=31"`
}

// Install verifies the install callback, registers the shop and queues its first full sync
func (h *ShopHandler) Install(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.service.Install(c.Request.Context(), tenancy.InstallInput{
		ShopID:    req.ShopID,
		Language:  req.Language,
		Timestamp: req.Timestamp,
		Token:     req.Token,
		Hash:      req.Hash,
		Cluster:   req.Cluster,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// Uninstall cancels the shop's sync work and deactivates it
func (h *ShopHandler) Uninstall(c *gin.Context) {
	tenantID, ok := h.bindShopID(c)
	if !ok {
		return
	}
	if err := h.service.Uninstall(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// GetSyncStatus returns the shop and its orchestrator state
func (h *ShopHandler) GetSyncStatus(c *gin.Context) {
	tenantID, ok := h.bindShopID(c)
	if !ok {
		return
	}
	status, err := h.service.SyncStatus(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// TriggerSync queues a full sync
func (h *ShopHandler) TriggerSync(c *gin.Context) {
	tenantID, ok := h.bindShopID(c)
	if !ok {
		return
	}
	result, err := h.service.TriggerSync(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, result)
}

// ListTasksRequest filters the task history
type ListTasksRequest struct {
	dto.LimitRequest
	ShopID string `form:"shop_id" binding:"omitempty,uuid"`
}

// ListTasks lists recent task results, optionally for one shop
func (h *ShopHandler) ListTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultTaskLimit
	}
	var tenantID *uuid.UUID
	if req.ShopID != "" {
		id := uuid.MustParse(req.ShopID)
		tenantID = &id
	}
	results := h.service.RecentTasks(tenantID, limit)
	if results == nil {
		results = []integration.Result{}
	}
	h.SuccessList(c, results, len(results), limit)
}

// GetSearchFields returns the search field configuration
func (h *ShopHandler) GetSearchFields(c *gin.Context) {
	tenantID, ok := h.bindShopID(c)
	if !ok {
		return
	}
	fields, err := h.service.SearchFields(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if fields == nil {
		fields = []catalog.SearchFieldSetting{}
	}
	h.Success(c, fields)
}

// SearchFieldInput is one entry of a search field update
type SearchFieldInput struct {
	Field    string `json:"field" binding:"required,oneof=name code ean short_description description producer"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority" binding:"required,min=1,max=100"`
}

// UpdateSearchFieldsRequest replaces a shop's search field configuration
type UpdateSearchFieldsRequest struct {
	Fields []SearchFieldInput `json:"fields" binding:"required,min=1,max=6,dive"`
}

// UpdateSearchFieldsResponse reports the sync queued to apply the new configuration
type UpdateSearchFieldsResponse struct {
	Fields []catalog.SearchFieldSetting `json:"fields"`
	Sync   *tenancy.TriggerResult       `json:"sync,omitempty"`
}

// UpdateSearchFields stores the configuration and queues a full sync that re-derives search text
func (h *ShopHandler) UpdateSearchFields(c *gin.Context) {
	tenantID, ok := h.bindShopID(c)
	if !ok {
		return
	}
	var req UpdateSearchFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	settings := make([]catalog.SearchFieldSetting, 0, len(req.Fields))
	for _, f := range req.Fields {
		settings = append(settings, catalog.SearchFieldSetting{
			Field:    catalog.SearchField(f.Field),
			Enabled:  f.Enabled,
			Priority: f.Priority,
		})
	}
	result, err := h.service.UpdateSearchFields(c.Request.Context(), tenantID, settings)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, UpdateSearchFieldsResponse{Fields: settings, Sync: result})
}
