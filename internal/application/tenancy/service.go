// Package tenancy manages the shop lifecycle (install, uninstall) and the
// per-shop admin operations around catalog sync.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/application/catalogsync"
	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
	"github.com/shopsync/backend/internal/infrastructure/ecommerce"
)

var (
	ErrInstallRejected = errors.New("tenancy: install request rejected")
	ErrShopInactive    = errors.New("tenancy: shop is uninstalled")
)

// InstallVerifier checks install request signatures
type InstallVerifier interface {
	Verify(params ecommerce.InstallParams) error
}

// CredentialSealer encrypts upstream credentials for storage on the shop row
type CredentialSealer interface {
	Seal(tenantID uuid.UUID, creds integration.Credentials) ([]byte, error)
}

// WebhookRegistrar subscribes the service to upstream change notifications
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, tenantID uuid.UUID, group catalog.EntityType, callbackURL string) (string, error)
}

// SyncController is the part of the orchestrator the admin surface drives
type SyncController interface {
	Submit(task integration.Task) error
	CancelTenant(tenantID uuid.UUID) int
	TenantStatus(tenantID uuid.UUID) catalogsync.TenantStatus
	History(limit int) []integration.Result
	HistoryByTenant(tenantID uuid.UUID, limit int) []integration.Result
}

// SearchSettings stores per-tenant search field configuration
type SearchSettings interface {
	SearchFields(ctx context.Context, tenantID uuid.UUID) ([]catalog.SearchFieldSetting, error)
	ReplaceSearchFields(ctx context.Context, tenantID uuid.UUID, settings []catalog.SearchFieldSetting) error
}

// Service handles shop installation and sync administration
type Service struct {
	shops           shop.Repository
	verifier        InstallVerifier
	sealer          CredentialSealer
	webhooks        WebhookRegistrar
	sync            SyncController
	search          SearchSettings
	callbackBaseURL string
	registerTimeout time.Duration
	logger          *zap.Logger
}

// ServiceConfig contains the dependencies of Service
type ServiceConfig struct {
	Shops    shop.Repository
	Verifier InstallVerifier
	Sealer   CredentialSealer
	Webhooks WebhookRegistrar
	Sync     SyncController
	Search   SearchSettings
	// CallbackBaseURL is the public base URL upstream delivers webhooks to
	CallbackBaseURL string
	// RegisterTimeout bounds webhook registration during install
	RegisterTimeout time.Duration
	Logger          *zap.Logger
}

// NewService creates a new Service
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RegisterTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		shops:           cfg.Shops,
		verifier:        cfg.Verifier,
		sealer:          cfg.Sealer,
		webhooks:        cfg.Webhooks,
		sync:            cfg.Sync,
		search:          cfg.Search,
		callbackBaseURL: cfg.CallbackBaseURL,
		registerTimeout: timeout,
		logger:          logger,
	}
}

// ---------------------------------------------------------------------------
// Install / uninstall
// ---------------------------------------------------------------------------

// Install verifies an install callback, creates or reactivates the shop,
// stores its credentials, subscribes to webhooks for every item group and
// queues the initial full sync.
func (s *Service) Install(ctx context.Context, in InstallInput) (*InstallResult, error) {
	params := ecommerce.InstallParams{
		ShopID:    in.ShopID,
		Token:     in.Token,
		Language:  in.Language,
		Timestamp: in.Timestamp,
		Signature: in.Hash,
	}
	if err := s.verifier.Verify(params); err != nil {
		s.logger.Warn("Install request rejected",
			zap.String("upstream_shop_id", in.ShopID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInstallRejected, err)
	}

	sh, reinstalled, err := s.upsertShop(ctx, in)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(
		zap.String("tenant_id", sh.ID.String()),
		zap.String("upstream_shop_id", sh.UpstreamShopID))

	result := &InstallResult{
		TenantID:      sh.ID,
		Reinstalled:   reinstalled,
		Subscriptions: make(map[catalog.EntityType]string, len(catalog.SyncOrder())),
	}
	s.registerWebhooks(ctx, sh.ID, result, log)

	task := integration.NewFullTask(sh.ID, integration.SyncModeFull)
	if err := s.sync.Submit(task); err != nil {
		// The scheduled reconcile picks the shop up later
		log.Warn("Initial sync not queued", zap.Error(err))
	} else {
		result.SyncTaskID = &task.ID
	}

	log.Info("Shop installed",
		zap.Bool("reinstalled", reinstalled),
		zap.Int("subscriptions", len(result.Subscriptions)))
	return result, nil
}

func (s *Service) upsertShop(ctx context.Context, in InstallInput) (*shop.Shop, bool, error) {
	locale, err := shop.ParseLocale(in.Language)
	if err != nil {
		return nil, false, err
	}

	sh, err := s.shops.FindByUpstreamID(ctx, in.ShopID)
	reinstalled := err == nil
	switch {
	case err == nil:
		if err := sh.Reinstall(in.Cluster, locale); err != nil {
			return nil, false, err
		}
	case errors.Is(err, shop.ErrShopNotFound):
		if sh, err = shop.NewShop(in.ShopID, in.Cluster, in.Language); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("failed to load shop: %w", err)
	}

	sealed, err := s.sealer.Seal(sh.ID, integration.Credentials{Key: in.ShopID, Secret: in.Token})
	if err != nil {
		return nil, false, fmt.Errorf("failed to seal credentials: %w", err)
	}
	sh.Credentials = sealed
	if err := s.shops.Save(ctx, sh); err != nil {
		return nil, false, fmt.Errorf("failed to save shop: %w", err)
	}
	return sh, reinstalled, nil
}

func (s *Service) registerWebhooks(ctx context.Context, tenantID uuid.UUID, result *InstallResult, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, s.registerTimeout)
	defer cancel()

	callback := s.CallbackURL(tenantID)
	for _, group := range catalog.SyncOrder() {
		id, err := s.webhooks.RegisterWebhook(ctx, tenantID, group, callback)
		if err != nil {
			log.Warn("Webhook registration failed",
				zap.String("entity_type", group.String()),
				zap.Error(err))
			result.FailedGroups = append(result.FailedGroups, group)
			continue
		}
		result.Subscriptions[group] = id
	}
}

// CallbackURL returns the webhook endpoint of a tenant
func (s *Service) CallbackURL(tenantID uuid.UUID) string {
	base, err := url.Parse(s.callbackBaseURL)
	if err != nil || s.callbackBaseURL == "" {
		return "/api/v1/webhooks/" + tenantID.String()
	}
	return base.JoinPath("api", "v1", "webhooks", tenantID.String()).String()
}

// Uninstall cancels the tenant's sync work and deactivates the shop. The
// running task stops at its next upstream call.
func (s *Service) Uninstall(ctx context.Context, tenantID uuid.UUID) error {
	sh, err := s.shops.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	dropped := s.sync.CancelTenant(tenantID)
	sh.Uninstall()
	if err := s.shops.Save(ctx, sh); err != nil {
		return fmt.Errorf("failed to save shop: %w", err)
	}
	s.logger.Info("Shop uninstalled",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("dropped_tasks", dropped))
	return nil
}

// ---------------------------------------------------------------------------
// Sync administration
// ---------------------------------------------------------------------------

// GetShop returns a shop by tenant id
func (s *Service) GetShop(ctx context.Context, tenantID uuid.UUID) (*ShopDTO, error) {
	sh, err := s.shops.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	dto := ToShopDTO(sh)
	return &dto, nil
}

// SyncStatus returns the persisted and live sync state of a tenant
func (s *Service) SyncStatus(ctx context.Context, tenantID uuid.UUID) (*SyncStatusDTO, error) {
	sh, err := s.shops.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &SyncStatusDTO{
		Shop:         ToShopDTO(sh),
		Orchestrator: s.sync.TenantStatus(tenantID),
	}, nil
}

// TriggerSync queues a manual full sync
func (s *Service) TriggerSync(ctx context.Context, tenantID uuid.UUID) (*TriggerResult, error) {
	sh, err := s.shops.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !sh.Active {
		return nil, ErrShopInactive
	}
	task := integration.NewFullTask(tenantID, integration.SyncModeFull)
	if err := s.sync.Submit(task); err != nil {
		return nil, err
	}
	s.logger.Info("Manual sync queued",
		zap.String("tenant_id", tenantID.String()),
		zap.String("task_id", task.ID.String()))
	return &TriggerResult{TaskID: task.ID, Mode: task.Mode}, nil
}

// RecentTasks returns the newest task results, optionally for one tenant
func (s *Service) RecentTasks(tenantID *uuid.UUID, limit int) []integration.Result {
	if tenantID != nil {
		return s.sync.HistoryByTenant(*tenantID, limit)
	}
	return s.sync.History(limit)
}

// SearchFields returns a tenant's search field configuration
func (s *Service) SearchFields(ctx context.Context, tenantID uuid.UUID) ([]catalog.SearchFieldSetting, error) {
	if _, err := s.shops.FindByID(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.search.SearchFields(ctx, tenantID)
}

// UpdateSearchFields replaces a tenant's search field configuration and
// queues a full sync, which installs the new profile and re-marks search rows.
func (s *Service) UpdateSearchFields(ctx context.Context, tenantID uuid.UUID, settings []catalog.SearchFieldSetting) (*TriggerResult, error) {
	sh, err := s.shops.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := catalog.NewSearchProfile(settings); err != nil {
		return nil, err
	}
	if err := s.search.ReplaceSearchFields(ctx, tenantID, settings); err != nil {
		return nil, fmt.Errorf("failed to save search fields: %w", err)
	}
	if !sh.Active {
		return nil, nil
	}
	task := integration.NewFullTask(tenantID, integration.SyncModeFull)
	if err := s.sync.Submit(task); err != nil {
		s.logger.Warn("Search profile sync not queued",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return nil, nil
	}
	return &TriggerResult{TaskID: task.ID, Mode: task.Mode}, nil
}
