// Package webhook turns upstream change notifications into incremental sync tasks.
// Accept never waits for a sync to run; it only authenticates the delivery,
// validates the envelope and hands a task to the orchestrator queue.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

// SignatureHeader carries hex(hmac-sha256(shop secret, body))
const SignatureHeader = "X-Webhook-Signature"

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: signature mismatch")
	ErrUnknownShop      = errors.New("webhook: unknown or uninstalled shop")
	ErrMalformedEvent   = errors.New("webhook: malformed event")
	// ErrUnavailable means the delivery was authentic but could not be queued;
	// upstream is expected to redeliver.
	ErrUnavailable = errors.New("webhook: sync queue unavailable")
)

// TaskSubmitter is the non-blocking entry point of the orchestrator
type TaskSubmitter interface {
	Submit(task integration.Task) error
}

// ShopFinder resolves the tenant a delivery is addressed to
type ShopFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*shop.Shop, error)
}

// Envelope is the body of a webhook delivery
type Envelope struct {
	ItemGroup  string          `json:"itemGroup" validate:"required,oneof=products variants categories pages"`
	ItemAction string          `json:"itemAction" validate:"required,max=32"`
	Payload    json.RawMessage `json:"payload"`
}

// payloadHeader holds the optional item identity within the payload.
// id is decoded separately because upstream sends it as a number or a string.
type payloadHeader struct {
	ID        json.RawMessage `json:"id"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Result describes an accepted delivery
type Result struct {
	TaskID     uuid.UUID          `json:"task_id"`
	EntityType catalog.EntityType `json:"entity_type"`
	UpstreamID string             `json:"upstream_id,omitempty"`
	Action     string             `json:"action"`
}

// Ingestor validates webhook deliveries and queues incremental sync tasks
type Ingestor struct {
	shops      ShopFinder
	submitter  TaskSubmitter
	signingKey []byte
	validate   *validator.Validate
	logger     *zap.Logger
}

// IngestorConfig contains configuration for Ingestor
type IngestorConfig struct {
	Shops     ShopFinder
	Submitter TaskSubmitter
	// SigningKey derives the per-shop secrets registered with upstream
	SigningKey []byte
	Logger     *zap.Logger
}

// NewIngestor creates a new Ingestor
func NewIngestor(cfg IngestorConfig) *Ingestor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		shops:      cfg.Shops,
		submitter:  cfg.Submitter,
		signingKey: cfg.SigningKey,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Accept authenticates body for tenantID and queues the implied sync task.
// Duplicate deliveries are accepted; the idempotency ledger absorbs them.
func (i *Ingestor) Accept(ctx context.Context, tenantID uuid.UUID, body []byte, signature string) (*Result, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	s, err := i.shops.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, shop.ErrShopNotFound) {
			return nil, ErrUnknownShop
		}
		return nil, fmt.Errorf("webhook: failed to load shop: %w", err)
	}
	if !s.Active {
		return nil, ErrUnknownShop
	}

	if !i.verify(s.UpstreamShopID, body, signature) {
		i.logger.Warn("Webhook signature mismatch",
			zap.String("tenant_id", tenantID.String()))
		return nil, ErrInvalidSignature
	}

	task, err := i.translate(tenantID, body)
	if err != nil {
		i.logger.Warn("Rejected malformed webhook",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return nil, err
	}

	if err := i.submitter.Submit(task); err != nil {
		if errors.Is(err, integration.ErrQueueFull) || errors.Is(err, integration.ErrNotRunning) {
			i.logger.Warn("Webhook could not be queued",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	i.logger.Debug("Webhook queued",
		zap.String("tenant_id", tenantID.String()),
		zap.String("task_id", task.ID.String()),
		zap.String("entity_type", task.EntityType.String()),
		zap.String("upstream_id", task.UpstreamID),
		zap.Int64("version", task.Version))

	return &Result{
		TaskID:     task.ID,
		EntityType: task.EntityType,
		UpstreamID: task.UpstreamID,
		Action:     string(task.Action),
	}, nil
}

// Secret returns the signing secret upstream uses for a shop
func (i *Ingestor) Secret(upstreamShopID string) string {
	return integration.DeriveWebhookSecret(i.signingKey, upstreamShopID)
}

func (i *Ingestor) verify(upstreamShopID string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(i.Secret(upstreamShopID)))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// translate maps an envelope to an incremental task. A payload without an
// item id yields a task covering the whole item group.
func (i *Ingestor) translate(tenantID uuid.UUID, body []byte) (integration.Task, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return integration.Task{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := i.validate.Struct(env); err != nil {
		return integration.Task{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	entityType, err := catalog.ParseEntityType(env.ItemGroup)
	if err != nil {
		return integration.Task{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var upstreamID string
	var version int64
	if p := bytes.TrimSpace(env.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		var h payloadHeader
		if err := json.Unmarshal(p, &h); err != nil {
			return integration.Task{}, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
		}
		if upstreamID, err = decodeID(h.ID); err != nil {
			return integration.Task{}, fmt.Errorf("%w: payload id: %v", ErrMalformedEvent, err)
		}
		version = h.Version
		if version == 0 && !h.UpdatedAt.IsZero() {
			version = h.UpdatedAt.UnixMilli()
		}
	}

	action := integration.ParseItemAction(env.ItemAction)
	if action == integration.ItemActionDelete && upstreamID == "" {
		return integration.Task{}, fmt.Errorf("%w: delete without item id", ErrMalformedEvent)
	}
	return integration.NewIncrementalTask(tenantID, entityType, upstreamID, action, version), nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
