package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/application/tenancy"
	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
	"github.com/shopsync/backend/internal/interfaces/http/dto"
	"github.com/shopsync/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDKey)
}

// bindShopID parses the :shop_id path parameter, writing a validation
// response when it is not a UUID.
func (h *BaseHandler) bindShopID(c *gin.Context) (uuid.UUID, bool) {
	var req dto.ShopIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(req.ShopID)
	if err != nil {
		h.BadRequest(c, "Invalid shop id")
		return uuid.Nil, false
	}
	return id, true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessList sends a bounded list
func (h *BaseHandler) SuccessList(c *gin.Context, data any, total, limit int) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, total, limit))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for queued work
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError maps application and domain errors to HTTP responses.
// Errors without a mapping become a 500 without exposing their text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, message := classifyError(err)
	if code == dto.ErrCodeInternal {
		_ = c.Error(err)
	}
	h.ErrorWithCode(c, code, message)
}

func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, shop.ErrShopNotFound):
		return dto.ErrCodeNotFound, "Shop not found"
	case errors.Is(err, tenancy.ErrShopInactive), errors.Is(err, shop.ErrShopInactive):
		return dto.ErrCodeInvalidState, "Shop is uninstalled"
	case errors.Is(err, tenancy.ErrInstallRejected):
		return dto.ErrCodeInvalidSignature, "Install request could not be verified"
	case errors.Is(err, integration.ErrQueueFull):
		return dto.ErrCodeQueueFull, "Sync queue is full, retry later"
	case errors.Is(err, integration.ErrNotRunning):
		return dto.ErrCodeUnavailable, "Sync engine is not running"
	case errors.Is(err, shop.ErrInvalidCluster),
		errors.Is(err, shop.ErrInvalidLocale),
		errors.Is(err, shop.ErrInvalidUpstreamID),
		errors.Is(err, catalog.ErrUnknownSearchField),
		errors.Is(err, catalog.ErrDuplicateSearchField),
		errors.Is(err, catalog.ErrInvalidPriority):
		return dto.ErrCodeBadRequest, err.Error()
	default:
		return dto.ErrCodeInternal, "An unexpected error occurred"
	}
}
