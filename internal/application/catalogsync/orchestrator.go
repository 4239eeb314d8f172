// Package catalogsync drives catalog synchronization: a bounded worker pool
// runs at most one sync task per tenant, coalesces queued tasks, retries
// transient failures with backoff and maintains each shop's sync status.
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/domain/shop"
	"github.com/shopsync/backend/internal/infrastructure/logger"
	"github.com/shopsync/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds configuration for the orchestrator
type Config struct {
	// Workers bounds the number of tasks running at once across all tenants
	Workers int
	// QueueSize bounds the number of queued tasks across all tenants
	QueueSize int
	// MaxAttempts is the number of executions of a task before the shop is marked Failed
	MaxAttempts int
	// RetryBaseDelay is the delay before the first retry; it doubles per attempt
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the retry delay
	RetryMaxDelay time.Duration
	// TaskTimeout bounds a single execution
	TaskTimeout time.Duration
	// LeaseTTL is the lifetime of the per-tenant lease; it must exceed TaskTimeout
	LeaseTTL time.Duration
	// ContentionDelay is how long a task waits when another process holds the lease
	ContentionDelay time.Duration
	// HistorySize is the number of results kept for monitoring
	HistorySize int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		QueueSize:       1000,
		MaxAttempts:     4,
		RetryBaseDelay:  30 * time.Second,
		RetryMaxDelay:   10 * time.Minute,
		TaskTimeout:     30 * time.Minute,
		LeaseTTL:        35 * time.Minute,
		ContentionDelay: 15 * time.Second,
		HistorySize:     200,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidConfig)
	case c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay:
		return fmt.Errorf("%w: retry delays", ErrInvalidConfig)
	case c.TaskTimeout <= 0:
		return fmt.Errorf("%w: task timeout must be positive", ErrInvalidConfig)
	case c.LeaseTTL <= c.TaskTimeout:
		return fmt.Errorf("%w: lease ttl must exceed task timeout", ErrInvalidConfig)
	case c.ContentionDelay <= 0:
		return fmt.Errorf("%w: contention delay must be positive", ErrInvalidConfig)
	case c.HistorySize < 0:
		return fmt.Errorf("%w: history size", ErrInvalidConfig)
	}
	return nil
}

// retryJitter spreads retries of tenants that failed together.
const retryJitter = 0.2

// RetryDelay returns the backoff before attempt+1: base * 2^(attempt-1),
// capped at RetryMaxDelay and randomized by ±retryJitter.
func (c Config) RetryDelay(attempt int) time.Duration {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     c.RetryBaseDelay,
		RandomizationFactor: retryJitter,
		Multiplier:          2,
		MaxInterval:         c.RetryMaxDelay,
	}
	bo.Reset()
	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// ErrInvalidConfig is returned for an invalid orchestrator configuration
var ErrInvalidConfig = errors.New("catalogsync: invalid configuration")

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// TaskRunner executes one task; *Executor implements it.
type TaskRunner interface {
	Execute(ctx context.Context, task integration.Task, report StateReporter) (integration.Result, error)
}

// tenantSlot is the per-tenant queue and state. A tenant is "scheduled" while
// its id sits in the ready channel; at most one of scheduled, running and
// waiting-for-retry holds at a time.
type tenantSlot struct {
	pending   []integration.Task
	state     integration.TaskState
	current   *integration.Task
	cancel    context.CancelFunc
	scheduled bool
	retry     *time.Timer
	last      *integration.Result
}

func (s *tenantSlot) idle() bool {
	return !s.scheduled && s.current == nil && s.retry == nil
}

// Orchestrator runs sync tasks on a bounded worker pool with per-tenant
// mutual exclusion.
type Orchestrator struct {
	config  Config
	runner  TaskRunner
	leases  integration.LeaseStore
	shops   shop.Repository
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
	now     func() time.Time

	ready     chan uuid.UUID
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	tenants   map[uuid.UUID]*tenantSlot
	queued    int

	historyMu sync.RWMutex
	history   []integration.Result
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(config Config, runner TaskRunner, leases integration.LeaseStore, shops shop.Repository, logger *zap.Logger) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:  config,
		runner:  runner,
		leases:  leases,
		shops:   shops,
		logger:  logger,
		now:     time.Now,
		ready:   make(chan uuid.UUID, config.QueueSize+config.Workers),
		tenants: make(map[uuid.UUID]*tenantSlot),
		history: make([]integration.Result, 0, config.HistorySize),
	}, nil
}

// SetMetrics sets the sync metrics recorder (optional)
func (o *Orchestrator) SetMetrics(m *telemetry.SyncMetrics) {
	o.metrics = m
}

// Start starts the worker pool
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return nil
	}
	o.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	for i := 0; i < o.config.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	o.logger.Info("Sync orchestrator started",
		zap.Int("workers", o.config.Workers),
		zap.Int("queue_size", o.config.QueueSize),
		zap.Duration("task_timeout", o.config.TaskTimeout),
	)
	return nil
}

// Stop cancels running tasks and waits for the workers to exit. Queued tasks
// are dropped; the next reconcile picks their tenants up again.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return nil
	}
	o.isRunning = false
	for _, slot := range o.tenants {
		if slot.retry != nil {
			slot.retry.Stop()
			slot.retry = nil
		}
	}
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("Sync orchestrator stopped gracefully")
		return nil
	case <-ctx.Done():
		o.logger.Warn("Sync orchestrator stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the orchestrator accepts tasks
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

// Submit queues a task. A queued task made redundant by the new one is
// dropped; a new task made redundant by a queued one is dropped instead.
// Submitting while the tenant's task runs is not an error: the task waits.
func (o *Orchestrator) Submit(task integration.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = o.now()
	}
	if task.Attempt == 0 {
		task.Attempt = 1
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.isRunning {
		return integration.ErrNotRunning
	}

	slot := o.slot(task.TenantID)
	for _, p := range slot.pending {
		if p.Supersedes(task) {
			o.logger.Debug("Sync task coalesced into queued task",
				zap.String("tenant_id", task.TenantID.String()),
				zap.String("task_id", task.ID.String()),
				zap.String("queued_task_id", p.ID.String()),
			)
			return nil
		}
	}

	kept := slot.pending[:0]
	for _, p := range slot.pending {
		if task.Supersedes(p) {
			o.queued--
			o.logger.Debug("Queued sync task absorbed",
				zap.String("tenant_id", task.TenantID.String()),
				zap.String("task_id", p.ID.String()),
				zap.String("absorbed_by", task.ID.String()),
			)
			continue
		}
		kept = append(kept, p)
	}
	slot.pending = kept

	if o.queued >= o.config.QueueSize {
		return integration.ErrQueueFull
	}
	slot.pending = append(slot.pending, task)
	o.queued++
	o.scheduleLocked(task.TenantID, slot)

	o.logger.Debug("Sync task submitted",
		zap.String("tenant_id", task.TenantID.String()),
		zap.String("task_id", task.ID.String()),
		zap.String("mode", task.Mode.String()),
		zap.String("entity_type", task.EntityType.String()),
	)
	return nil
}

// CancelTenant drops the tenant's queued tasks and cancels its running task.
// The running task stops before its next upstream call. It returns the number
// of queued tasks dropped.
func (o *Orchestrator) CancelTenant(tenantID uuid.UUID) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot, ok := o.tenants[tenantID]
	if !ok {
		return 0
	}
	dropped := len(slot.pending)
	o.queued -= dropped
	slot.pending = nil
	if slot.retry != nil {
		slot.retry.Stop()
		slot.retry = nil
	}
	if slot.cancel != nil {
		slot.cancel()
	}
	o.logger.Info("Sync tasks cancelled for tenant",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("dropped", dropped),
		zap.Bool("running", slot.current != nil),
	)
	return dropped
}

// TenantStatus is the orchestrator's view of one tenant
type TenantStatus struct {
	State   integration.TaskState `json:"state"`
	Queued  int                   `json:"queued"`
	Running *integration.Task     `json:"running,omitempty"`
	Last    *integration.Result   `json:"last,omitempty"`
}

// TenantStatus returns the current state of a tenant
func (o *Orchestrator) TenantStatus(tenantID uuid.UUID) TenantStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot, ok := o.tenants[tenantID]
	if !ok {
		return TenantStatus{State: integration.StateIdle}
	}
	st := TenantStatus{State: slot.state, Queued: len(slot.pending), Last: slot.last}
	if slot.current != nil {
		cur := *slot.current
		st.Running = &cur
	}
	return st
}

// QueueDepth returns the number of queued tasks
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued
}

// ---------------------------------------------------------------------------
// Scheduling (o.mu held)
// ---------------------------------------------------------------------------

func (o *Orchestrator) slot(tenantID uuid.UUID) *tenantSlot {
	slot, ok := o.tenants[tenantID]
	if !ok {
		slot = &tenantSlot{state: integration.StateIdle}
		o.tenants[tenantID] = slot
	}
	return slot
}

// scheduleLocked hands an idle tenant with pending work to the workers. The
// ready channel holds each tenant at most once and is sized for every queued
// task plus one retry per worker, so the send never blocks.
func (o *Orchestrator) scheduleLocked(tenantID uuid.UUID, slot *tenantSlot) {
	if len(slot.pending) == 0 || !slot.idle() || !o.isRunning {
		return
	}
	select {
	case o.ready <- tenantID:
		slot.scheduled = true
	default:
		o.logger.Error("Sync ready queue overflow", zap.String("tenant_id", tenantID.String()))
	}
}

// deferLocked puts task back at the head of the tenant's queue and schedules
// the tenant again after delay.
func (o *Orchestrator) deferLocked(tenantID uuid.UUID, slot *tenantSlot, task integration.Task, delay time.Duration) {
	slot.pending = append([]integration.Task{task}, slot.pending...)
	o.queued++
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if slot.retry != timer {
			return
		}
		slot.retry = nil
		o.scheduleLocked(tenantID, slot)
	})
	slot.retry = timer
}

// ---------------------------------------------------------------------------
// Workers
// ---------------------------------------------------------------------------

func (o *Orchestrator) worker(ctx context.Context, workerID int) {
	defer o.wg.Done()

	o.logger.Debug("Sync worker started", zap.Int("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("Sync worker stopping", zap.Int("worker_id", workerID))
			return
		case tenantID := <-o.ready:
			o.processTenant(ctx, tenantID, workerID)
		}
	}
}

// take moves the tenant's next task into the running position
func (o *Orchestrator) take(ctx context.Context, tenantID uuid.UUID) (integration.Task, context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot := o.slot(tenantID)
	slot.scheduled = false
	if len(slot.pending) == 0 || slot.current != nil {
		return integration.Task{}, nil, false
	}
	task := slot.pending[0]
	slot.pending = slot.pending[1:]
	o.queued--

	taskCtx, cancel := context.WithCancel(ctx)
	slot.current = &task
	slot.cancel = cancel
	slot.state = integration.StateFetching
	if o.metrics != nil {
		o.metrics.RecordQueueDepth(ctx, o.queued)
	}
	return task, taskCtx, true
}

// finish clears the running position and schedules the tenant's next task
func (o *Orchestrator) finish(tenantID uuid.UUID, state integration.TaskState, result *integration.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot := o.slot(tenantID)
	if slot.cancel != nil {
		slot.cancel()
	}
	slot.current = nil
	slot.cancel = nil
	slot.state = state
	if result != nil {
		slot.last = result
	}
	o.scheduleLocked(tenantID, slot)
}

func (o *Orchestrator) setState(tenantID uuid.UUID, state integration.TaskState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slot, ok := o.tenants[tenantID]; ok && slot.current != nil {
		slot.state = state
	}
}

// processTenant runs the tenant's next task under the tenant lease
func (o *Orchestrator) processTenant(ctx context.Context, tenantID uuid.UUID, workerID int) {
	task, taskCtx, ok := o.take(ctx, tenantID)
	if !ok {
		return
	}

	lease, lerr := o.leases.Acquire(ctx, tenantID, o.config.LeaseTTL)
	if lerr != nil {
		o.onLeaseFailure(tenantID, task, lerr)
		return
	}
	defer func() {
		if err := o.leases.Release(context.WithoutCancel(ctx), lease); err != nil {
			o.logger.Warn("Failed to release tenant lease", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		}
	}()

	log := o.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("tenant_id", tenantID.String()),
		zap.String("task_id", task.ID.String()),
		zap.String("mode", task.Mode.String()),
		zap.Int("attempt", task.Attempt),
	)
	log.Info("Processing sync task", zap.Duration("queued_for", o.now().Sub(task.EnqueuedAt)))

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, o.config.TaskTimeout)
	defer cancelTimeout()
	taskCtx, _ = logger.WithTenantID(taskCtx, log, tenantID.String())
	taskCtx, span := telemetry.StartServiceSpan(taskCtx, "catalogsync", "run",
		telemetry.WithAttribute("tenant_id", tenantID.String()),
		telemetry.WithAttribute("sync_mode", task.Mode.String()),
		telemetry.WithAttribute("attempt", task.Attempt),
	)
	defer span.End()

	if task.Mode.IsFull() {
		o.updateShop(ctx, tenantID, shop.StatusUpdate{Status: shop.SyncStatusSyncing})
	}

	var (
		result integration.Result
		err    error
	)
	labels := telemetry.SyncTaskLabels(tenantID.String(), task.Mode.String(), task.EntityType.String())
	telemetry.WithProfilingLabels(taskCtx, labels, func(ctx context.Context) {
		result, err = o.runner.Execute(ctx, task, func(s integration.TaskState) { o.setState(tenantID, s) })
	})
	outcome := o.conclude(ctx, log, task, &result, err)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	telemetry.SetAttributes(span, "outcome", outcome, "applied", result.Applied, "skipped", result.Skipped)
	if o.metrics != nil {
		o.metrics.RecordTask(ctx, task.Mode.String(), outcome, result.Duration())
	}
	o.addToHistory(result)
}

func (o *Orchestrator) onLeaseFailure(tenantID uuid.UUID, task integration.Task, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot := o.slot(tenantID)
	slot.current = nil
	if slot.cancel != nil {
		slot.cancel()
		slot.cancel = nil
	}
	slot.state = integration.StateIdle
	if !o.isRunning {
		return
	}
	if errors.Is(err, integration.ErrTenantLockContention) {
		o.logger.Debug("Tenant lease held elsewhere, task requeued",
			zap.String("tenant_id", tenantID.String()),
			zap.String("task_id", task.ID.String()),
		)
	} else {
		o.logger.Warn("Failed to acquire tenant lease, task requeued",
			zap.String("tenant_id", tenantID.String()),
			zap.String("task_id", task.ID.String()),
			zap.Error(err),
		)
	}
	o.deferLocked(tenantID, slot, task, o.config.ContentionDelay)
}

// conclude applies the failure policy to an execution and returns the metric outcome
func (o *Orchestrator) conclude(ctx context.Context, log *zap.Logger, task integration.Task, result *integration.Result, err error) string {
	tenantID := task.TenantID

	if err == nil {
		log.Info("Sync task completed",
			zap.Int("applied", result.Applied),
			zap.Int("unchanged", result.Unchanged),
			zap.Int("skipped", result.Skipped),
			zap.Int("deleted", result.Deleted),
			zap.Duration("duration", result.Duration()),
		)
		if task.Mode.IsFull() {
			at := result.FinishedAt
			o.updateShop(ctx, tenantID, shop.StatusUpdate{Status: shop.SyncStatusCompleted, LastSyncAt: &at})
		}
		o.finish(tenantID, integration.StateCompleted, result)
		return telemetry.OutcomeCompleted
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		// uninstall or shutdown; the catalog keeps what was committed
		result.Error = integration.ErrTaskCancelled.Error()
		log.Info("Sync task cancelled", zap.Int("applied", result.Applied))
		o.finish(tenantID, integration.StateIdle, result)
		return telemetry.OutcomeCancelled
	}

	if integration.IsRetryable(err) && task.Attempt < o.config.MaxAttempts {
		delay := o.config.RetryDelay(task.Attempt)
		next := task
		next.Attempt++
		log.Warn("Sync task failed, retry scheduled",
			zap.Error(err),
			zap.Duration("retry_in", delay),
			zap.Int("max_attempts", o.config.MaxAttempts),
		)
		o.mu.Lock()
		slot := o.slot(tenantID)
		if slot.cancel != nil {
			slot.cancel()
		}
		slot.current = nil
		slot.cancel = nil
		slot.state = integration.StateIdle
		slot.last = result
		if o.isRunning {
			o.deferLocked(tenantID, slot, next, delay)
		}
		o.mu.Unlock()
		return telemetry.OutcomeRetried
	}

	log.Error("Sync task failed", zap.Error(err), zap.Bool("retryable", integration.IsRetryable(err)))
	o.updateShop(ctx, tenantID, shop.StatusUpdate{Status: shop.SyncStatusFailed, LastError: err.Error()})
	o.finish(tenantID, integration.StateFailed, result)
	return telemetry.OutcomeFailed
}

func (o *Orchestrator) updateShop(ctx context.Context, tenantID uuid.UUID, update shop.StatusUpdate) {
	if o.shops == nil {
		return
	}
	if err := o.shops.UpdateStatus(context.WithoutCancel(ctx), tenantID, update); err != nil {
		o.logger.Warn("Failed to update shop sync status",
			zap.String("tenant_id", tenantID.String()),
			zap.String("status", update.Status.String()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (o *Orchestrator) addToHistory(result integration.Result) {
	if o.config.HistorySize == 0 {
		return
	}
	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	o.history = append([]integration.Result{result}, o.history...)
	if len(o.history) > o.config.HistorySize {
		o.history = o.history[:o.config.HistorySize]
	}
}

// History returns the most recent results, newest first
func (o *Orchestrator) History(limit int) []integration.Result {
	o.historyMu.RLock()
	defer o.historyMu.RUnlock()

	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	out := make([]integration.Result, limit)
	copy(out, o.history[:limit])
	return out
}

// HistoryByTenant returns the most recent results of one tenant, newest first
func (o *Orchestrator) HistoryByTenant(tenantID uuid.UUID, limit int) []integration.Result {
	o.historyMu.RLock()
	defer o.historyMu.RUnlock()

	out := make([]integration.Result, 0)
	for _, r := range o.history {
		if r.TenantID != tenantID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
