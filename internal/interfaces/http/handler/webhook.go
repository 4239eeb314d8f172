package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/application/webhook"
	"github.com/shopsync/backend/internal/interfaces/http/dto"
)

// WebhookAcceptor authenticates and queues a webhook delivery
type WebhookAcceptor interface {
	Accept(ctx context.Context, tenantID uuid.UUID, body []byte, signature string) (*webhook.Result, error)
}

// WebhookHandler receives upstream change notifications.
// The endpoint is called by the platform and authenticated by HMAC signature only.
type WebhookHandler struct {
	BaseHandler
	ingestor WebhookAcceptor
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// Payload size is bounded by the route's middleware.BodyLimit.
func NewWebhookHandler(ingestor WebhookAcceptor, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

// WebhookResponse acknowledges a delivery
type WebhookResponse struct {
	Received   bool      `json:"received"`
	TaskID     uuid.UUID `json:"task_id"`
	EntityType string    `json:"entity_type"`
	UpstreamID string    `json:"upstream_id,omitempty"`
	Action     string    `json:"action"`
}

// Receive verifies, translates and queues an upstream webhook. The sync runs asynchronously.
func (h *WebhookHandler) Receive(c *gin.Context) {
	tenantID, ok := h.bindShopID(c)
	if !ok {
		return
	}

	// The signature covers the raw bytes, so the body is read before any decoding
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Payload too large")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	result, err := h.ingestor.Accept(c.Request.Context(), tenantID, payload, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		h.handleWebhookError(c, tenantID, err)
		return
	}

	h.Accepted(c, WebhookResponse{
		Received:   true,
		TaskID:     result.TaskID,
		EntityType: result.EntityType.String(),
		UpstreamID: result.UpstreamID,
		Action:     result.Action,
	})
}

func (h *WebhookHandler) handleWebhookError(c *gin.Context, tenantID uuid.UUID, err error) {
	log := h.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("request_id", getRequestID(c)),
		zap.Error(err))

	switch {
	case errors.Is(err, webhook.ErrMissingSignature):
		log.Warn("Webhook without signature")
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidSignature, "Missing "+webhook.SignatureHeader+" header")
	case errors.Is(err, webhook.ErrInvalidSignature):
		log.Warn("Webhook signature verification failed")
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidSignature, "Webhook signature verification failed")
	case errors.Is(err, webhook.ErrUnknownShop):
		log.Info("Webhook for unknown shop")
		h.NotFound(c, "Unknown shop")
	case errors.Is(err, webhook.ErrMalformedEvent):
		log.Info("Malformed webhook event")
		h.BadRequest(c, "Malformed webhook event")
	case errors.Is(err, webhook.ErrUnavailable):
		log.Warn("Webhook not queued")
		c.Header("Retry-After", "30")
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Sync queue unavailable, redeliver later")
	default:
		log.Error("Webhook processing failed")
		h.InternalError(c, "An unexpected error occurred")
	}
}
