// Package scheduler runs the periodic jobs of the sync engine: reconcile
// syncs for every active shop and housekeeping of in-memory state.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
)

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// ShopLister provides the shops to reconcile
type ShopLister interface {
	ListActive(ctx context.Context) ([]shop.Shop, error)
}

// TaskSubmitter queues sync tasks; *catalogsync.Orchestrator implements it
type TaskSubmitter interface {
	Submit(task integration.Task) error
}

// ---------------------------------------------------------------------------
// ReconcileTriggerConfig
// ---------------------------------------------------------------------------

// ReconcileTriggerConfig holds configuration for the reconcile trigger
type ReconcileTriggerConfig struct {
	// Interval is the minimum time between two reconciles of a shop
	Interval time.Duration

	// CheckInterval is how often shops are checked for a due reconcile
	CheckInterval time.Duration

	// ListTimeout bounds loading the active shops
	ListTimeout time.Duration
}

// DefaultReconcileTriggerConfig returns default configuration
func DefaultReconcileTriggerConfig() ReconcileTriggerConfig {
	return ReconcileTriggerConfig{
		Interval:      6 * time.Hour,
		CheckInterval: 5 * time.Minute,
		ListTimeout:   30 * time.Second,
	}
}

// Validate validates the configuration
func (c ReconcileTriggerConfig) Validate() error {
	if c.Interval <= 0 || c.CheckInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.CheckInterval > c.Interval {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// ReconcileTrigger
// ---------------------------------------------------------------------------

// ReconcileTrigger queues a Reconcile task for every active shop once per
// interval. A shop whose last completed sync is recent enough is not
// reconciled until a full interval has passed since that sync.
type ReconcileTrigger struct {
	config    ReconcileTriggerConfig
	shops     ShopLister
	submitter TaskSubmitter
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// lastScheduled is the time a reconcile was last queued (or, on first
	// sight, the shop's last completed sync) per tenant
	lastScheduledMu sync.RWMutex
	lastScheduled   map[uuid.UUID]time.Time
}

// NewReconcileTrigger creates a new reconcile trigger
func NewReconcileTrigger(
	config ReconcileTriggerConfig,
	shops ShopLister,
	submitter TaskSubmitter,
	logger *zap.Logger,
) (*ReconcileTrigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ListTimeout <= 0 {
		config.ListTimeout = DefaultReconcileTriggerConfig().ListTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileTrigger{
		config:        config,
		shops:         shops,
		submitter:     submitter,
		logger:        logger,
		now:           time.Now,
		lastScheduled: make(map[uuid.UUID]time.Time),
	}, nil
}

// Start starts the trigger loop
func (t *ReconcileTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Reconcile trigger started",
		zap.Duration("interval", t.config.Interval),
		zap.Duration("check_interval", t.config.CheckInterval),
	)
	return nil
}

// Stop stops the trigger loop
func (t *ReconcileTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Reconcile trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether the trigger loop is running
func (t *ReconcileTrigger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunning
}

func (t *ReconcileTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	t.CheckAndSchedule(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckAndSchedule(ctx)
		}
	}
}

// CheckAndSchedule queues a reconcile for every active shop that is due and
// returns the number queued.
func (t *ReconcileTrigger) CheckAndSchedule(ctx context.Context) int {
	listCtx, cancel := context.WithTimeout(ctx, t.config.ListTimeout)
	shops, err := t.shops.ListActive(listCtx)
	cancel()
	if err != nil {
		t.logger.Error("Failed to list active shops", zap.Error(err))
		return 0
	}

	now := t.now()
	active := make(map[uuid.UUID]struct{}, len(shops))
	scheduled := 0
	for i := range shops {
		s := &shops[i]
		active[s.ID] = struct{}{}
		if !t.isDue(s, now) {
			continue
		}

		task := integration.NewFullTask(s.ID, integration.SyncModeReconcile)
		if err := t.submitter.Submit(task); err != nil {
			// Left unmarked so the next check retries
			t.logger.Warn("Failed to queue reconcile",
				zap.String("tenant_id", s.ID.String()),
				zap.Error(err),
			)
			if errors.Is(err, integration.ErrNotRunning) {
				// active is partial, so nothing may be forgotten
				return scheduled
			}
			continue
		}
		t.markScheduled(s.ID, now)
		scheduled++
	}
	t.forgetInactive(active)

	if scheduled > 0 {
		t.logger.Info("Reconcile tasks queued",
			zap.Int("scheduled", scheduled),
			zap.Int("active_shops", len(shops)),
		)
	}
	return scheduled
}

func (t *ReconcileTrigger) isDue(s *shop.Shop, now time.Time) bool {
	t.lastScheduledMu.Lock()
	defer t.lastScheduledMu.Unlock()

	last, seen := t.lastScheduled[s.ID]
	if !seen && s.LastSyncAt != nil {
		last = *s.LastSyncAt
		t.lastScheduled[s.ID] = last
		seen = true
	}
	return !seen || now.Sub(last) >= t.config.Interval
}

func (t *ReconcileTrigger) markScheduled(tenantID uuid.UUID, at time.Time) {
	t.lastScheduledMu.Lock()
	t.lastScheduled[tenantID] = at
	t.lastScheduledMu.Unlock()
}

// forgetInactive drops uninstalled shops so a reinstall starts fresh
func (t *ReconcileTrigger) forgetInactive(active map[uuid.UUID]struct{}) {
	t.lastScheduledMu.Lock()
	defer t.lastScheduledMu.Unlock()
	for id := range t.lastScheduled {
		if _, ok := active[id]; !ok {
			delete(t.lastScheduled, id)
		}
	}
}

// LastScheduled returns when a reconcile was last queued for a tenant
func (t *ReconcileTrigger) LastScheduled(tenantID uuid.UUID) (time.Time, bool) {
	t.lastScheduledMu.RLock()
	defer t.lastScheduledMu.RUnlock()
	at, ok := t.lastScheduled[tenantID]
	return at, ok
}
