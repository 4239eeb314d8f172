package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/infrastructure/telemetry"
)

// StateReporter receives the Running sub-state of a task as it progresses.
type StateReporter func(integration.TaskState)

// Executor runs a single sync task against the upstream catalog. It does not
// retry and does not take the tenant lease; the Orchestrator does both.
type Executor struct {
	upstream     integration.UpstreamCatalog
	uow          integration.UnitOfWork
	searchConfig integration.SearchConfigSource
	logger       *zap.Logger
	metrics      *telemetry.SyncMetrics
	now          func() time.Time
}

// NewExecutor creates a new Executor
func NewExecutor(
	upstream integration.UpstreamCatalog,
	uow integration.UnitOfWork,
	searchConfig integration.SearchConfigSource,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		upstream:     upstream,
		uow:          uow,
		searchConfig: searchConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// SetMetrics sets the sync metrics recorder (optional)
func (e *Executor) SetMetrics(m *telemetry.SyncMetrics) {
	e.metrics = m
}

type itemOutcome int

const (
	outcomeApplied itemOutcome = iota
	outcomeUnchanged
	outcomeSkipped
)

// run tracks the progress of one execution
type run struct {
	task   integration.Task
	result *integration.Result
	report StateReporter
	logger *zap.Logger
	// refreshSearch marks ledger no-ops search-dirty after a search profile change
	refreshSearch bool
}

func (r *run) count(t catalog.EntityType, o itemOutcome) {
	switch o {
	case outcomeApplied:
		r.result.Applied++
		r.result.ByType[string(t)]++
	case outcomeUnchanged:
		r.result.Unchanged++
	case outcomeSkipped:
		r.result.Skipped++
	}
}

// Execute runs task and returns its result. Item-level failures are counted
// as skipped; the returned error is a task-level failure.
func (e *Executor) Execute(ctx context.Context, task integration.Task, report StateReporter) (integration.Result, error) {
	if report == nil {
		report = func(integration.TaskState) {}
	}
	result := integration.Result{
		TaskID:     task.ID,
		TenantID:   task.TenantID,
		Mode:       task.Mode,
		Attempt:    task.Attempt,
		EntityType: task.EntityType,
		ByType:     make(map[string]int),
		StartedAt:  e.now(),
	}
	r := &run{
		task:   task,
		result: &result,
		report: report,
		logger: e.logger.With(
			zap.String("tenant_id", task.TenantID.String()),
			zap.String("task_id", task.ID.String()),
			zap.String("mode", task.Mode.String()),
		),
	}

	var err error
	switch {
	case task.Mode.IsFull():
		err = e.runFull(ctx, r)
	case task.UpstreamID != "":
		err = e.runItem(ctx, r)
	default:
		err = e.runEntityType(ctx, r)
	}

	result.FinishedAt = e.now()
	if err != nil {
		result.State = integration.StateFailed
		result.Error = err.Error()
		return result, err
	}
	result.State = integration.StateCompleted
	e.recordItems(ctx, &result)
	return result, nil
}

func (e *Executor) recordItems(ctx context.Context, res *integration.Result) {
	if e.metrics == nil {
		return
	}
	for t, n := range res.ByType {
		e.metrics.RecordItems(ctx, t, telemetry.ItemApplied, n)
	}
	e.metrics.RecordItems(ctx, "all", telemetry.ItemUnchanged, res.Unchanged)
	e.metrics.RecordItems(ctx, "all", telemetry.ItemSkipped, res.Skipped)
	e.metrics.RecordItems(ctx, "all", telemetry.ItemDeleted, res.Deleted)
	e.metrics.RecordDroppedLinks(ctx, res.Dropped)
}

// ---------------------------------------------------------------------------
// Full sync
// ---------------------------------------------------------------------------

func (e *Executor) runFull(ctx context.Context, r *run) error {
	r.report(integration.StateFetching)

	changed, err := e.installSearchProfile(ctx, r)
	if err != nil {
		return err
	}
	r.refreshSearch = changed

	seen := make(map[catalog.EntityType]map[string]struct{}, 4)
	for _, t := range catalog.SyncOrder() {
		ids, err := e.paginate(ctx, r, t)
		if err != nil {
			return err
		}
		seen[t] = ids
		if t == catalog.EntityTypeCategory {
			if err := e.resolveCategories(ctx, r); err != nil {
				return err
			}
		}
	}

	r.report(integration.StateReconciling)
	// Variants go before products so that the product cascade does not leave
	// ledger records behind.
	for _, t := range []catalog.EntityType{
		catalog.EntityTypeVariant, catalog.EntityTypeProduct, catalog.EntityTypePage, catalog.EntityTypeCategory,
	} {
		if err := e.removeMissing(ctx, r, t, seen[t]); err != nil {
			return err
		}
	}
	if r.result.Deleted > 0 {
		// deleted categories may have been parents
		if err := e.resolveCategories(ctx, r); err != nil {
			return err
		}
	}

	r.logger.Info("Full sync finished",
		zap.Int("applied", r.result.Applied),
		zap.Int("unchanged", r.result.Unchanged),
		zap.Int("skipped", r.result.Skipped),
		zap.Int("deleted", r.result.Deleted),
		zap.Int("dropped_category_links", r.result.Dropped),
		zap.Bool("search_profile_changed", r.refreshSearch),
	)
	return nil
}

// installSearchProfile reads the tenant's search fields once per run. An
// invalid configuration falls back to the default profile.
func (e *Executor) installSearchProfile(ctx context.Context, r *run) (bool, error) {
	profile := catalog.DefaultSearchProfile()
	if e.searchConfig != nil {
		settings, err := e.searchConfig.SearchFields(ctx, r.task.TenantID)
		if err != nil {
			return false, fmt.Errorf("load search fields: %w", err)
		}
		if len(settings) > 0 {
			p, err := catalog.NewSearchProfile(settings)
			if err != nil {
				r.logger.Warn("Invalid search field configuration, using defaults", zap.Error(err))
			} else {
				profile = p
			}
		}
	}

	var changed bool
	err := e.uow.InTenantTx(ctx, r.task.TenantID, func(ctx context.Context, _ integration.IdempotencyLedger, store catalog.Store) error {
		var err error
		changed, err = store.SetSearchProfile(ctx, r.task.TenantID, profile)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("install search profile: %w", err)
	}
	return changed, nil
}

// paginate fetches every page of t and applies the items. It returns the set
// of upstream ids seen, or nil when the listing could not be completed.
func (e *Executor) paginate(ctx context.Context, r *run, t catalog.EntityType) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.report(integration.StateFetching)
		page, err := e.upstream.FetchPage(ctx, r.task.TenantID, t, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page: %w", t, err)
		}

		r.report(integration.StateApplying)
		for _, rej := range page.Rejected {
			// a rejected item still exists upstream
			seen[rej.UpstreamID] = struct{}{}
			r.count(t, outcomeSkipped)
			r.logger.Warn("Skipping rejected item", zap.String("entity_type", t.String()),
				zap.String("upstream_id", rej.UpstreamID), zap.Error(rej.Err))
		}
		for _, item := range page.Items {
			seen[item.GetHeader().UpstreamID] = struct{}{}
			o, err := e.apply(ctx, r, item)
			if err != nil {
				return nil, err
			}
			r.count(t, o)
		}

		if page.Done {
			return seen, nil
		}
		if page.NextCursor == cursor {
			return nil, fmt.Errorf("%w: %s cursor %q did not advance", integration.ErrUpstreamUnavailable, t, cursor)
		}
		cursor = page.NextCursor
	}
}

// apply runs one item through the idempotency-gated write path. Ledger check,
// upsert and ledger record share one tenant transaction.
func (e *Executor) apply(ctx context.Context, r *run, item catalog.Entity) (itemOutcome, error) {
	tenantID := r.task.TenantID
	key := integration.LedgerKeyOf(tenantID, item)
	version := item.GetHeader().Version

	outcome := outcomeUnchanged
	err := e.uow.InTenantTx(ctx, tenantID, func(ctx context.Context, ledger integration.IdempotencyLedger, store catalog.Store) error {
		ok, err := ledger.ShouldApply(ctx, key, version)
		if err != nil {
			return err
		}
		if !ok {
			outcome = outcomeUnchanged
			if r.refreshSearch {
				err := store.MarkSearchDirty(ctx, tenantID, key.EntityType, key.UpstreamID)
				if err != nil && !errors.Is(err, catalog.ErrEntityNotFound) {
					return err
				}
			}
			return nil
		}
		if _, err := store.Upsert(ctx, tenantID, item); err != nil {
			return err
		}
		if err := ledger.RecordApplied(ctx, key, version, e.now()); err != nil {
			return err
		}
		outcome = outcomeApplied
		return nil
	})

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, integration.ErrLedgerConflict):
		r.logger.Debug("Concurrent writer applied item first",
			zap.String("entity_type", key.EntityType.String()), zap.String("upstream_id", key.UpstreamID))
		return outcomeUnchanged, nil
	case integration.IsItemLevel(err):
		r.logger.Warn("Skipping item",
			zap.String("entity_type", key.EntityType.String()), zap.String("upstream_id", key.UpstreamID), zap.Error(err))
		return outcomeSkipped, nil
	default:
		return 0, fmt.Errorf("apply %s: %w", catalog.RefOf(item), err)
	}
}

// remove deletes an entity and forgets its ledger record in one transaction
func (e *Executor) remove(ctx context.Context, r *run, t catalog.EntityType, upstreamID string) error {
	tenantID := r.task.TenantID
	err := e.uow.InTenantTx(ctx, tenantID, func(ctx context.Context, ledger integration.IdempotencyLedger, store catalog.Store) error {
		if err := store.Delete(ctx, tenantID, t, upstreamID); err != nil {
			return err
		}
		return ledger.Forget(ctx, integration.LedgerKey{TenantID: tenantID, EntityType: t, UpstreamID: upstreamID})
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", t, upstreamID, err)
	}
	r.result.Deleted++
	return nil
}

// removeMissing deletes local entities of t that upstream no longer lists
func (e *Executor) removeMissing(ctx context.Context, r *run, t catalog.EntityType, seen map[string]struct{}) error {
	if seen == nil {
		return nil
	}
	var local []string
	err := e.uow.InTenantTx(ctx, r.task.TenantID, func(ctx context.Context, _ integration.IdempotencyLedger, store catalog.Store) error {
		var err error
		local, err = store.UpstreamIDs(ctx, r.task.TenantID, t)
		return err
	})
	if err != nil {
		return fmt.Errorf("list local %s: %w", t, err)
	}

	for _, id := range local {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.remove(ctx, r, t, id); err != nil {
			return err
		}
		r.logger.Info("Removed entity missing upstream",
			zap.String("entity_type", t.String()), zap.String("upstream_id", id))
	}
	return nil
}

// resolveCategories is the second category pass: it loads every claimed
// parent link, breaks cycles and stores the accepted parents.
func (e *Executor) resolveCategories(ctx context.Context, r *run) error {
	tenantID := r.task.TenantID
	var res catalog.CategoryResolution
	var changed int
	err := e.uow.InTenantTx(ctx, tenantID, func(ctx context.Context, _ integration.IdempotencyLedger, store catalog.Store) error {
		links, err := store.CategoryLinks(ctx, tenantID)
		if err != nil {
			return err
		}
		res = catalog.NewCategoryGraph(links).Resolve()
		changed, err = store.SetCategoryParents(ctx, tenantID, res.Links)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolve category parents: %w", err)
	}

	for _, d := range res.Dropped {
		r.logger.Warn("Dropped cyclic category parent",
			zap.String("upstream_id", d.UpstreamID),
			zap.String("parent_upstream_id", d.ParentUpstreamID),
			zap.Error(integration.ErrCyclicReference),
		)
	}
	for _, d := range res.Dangling {
		r.logger.Debug("Category parent not found, stored as root",
			zap.String("upstream_id", d.UpstreamID),
			zap.String("parent_upstream_id", d.ParentUpstreamID),
		)
	}
	r.result.Dropped += len(res.Dropped)
	if changed > 0 {
		r.logger.Debug("Category parents updated", zap.Int("changed", changed))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Incremental sync
// ---------------------------------------------------------------------------

// runItem applies one webhook-announced change
func (e *Executor) runItem(ctx context.Context, r *run) error {
	task := r.task
	r.report(integration.StateFetching)

	if task.Version > 0 && task.Action != integration.ItemActionDelete {
		stale, err := e.isStale(ctx, task)
		if err != nil {
			return err
		}
		if stale {
			r.count(task.EntityType, outcomeUnchanged)
			r.logger.Debug("Webhook version already applied",
				zap.String("upstream_id", task.UpstreamID), zap.Int64("version", task.Version))
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	item, err := e.upstream.FetchOne(ctx, task.TenantID, task.EntityType, task.UpstreamID)
	switch {
	case errors.Is(err, integration.ErrUpstreamNotFound):
		r.report(integration.StateApplying)
		return e.remove(ctx, r, task.EntityType, task.UpstreamID)
	case err != nil && integration.IsItemLevel(err):
		r.count(task.EntityType, outcomeSkipped)
		r.logger.Warn("Skipping rejected item", zap.String("upstream_id", task.UpstreamID), zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("fetch %s/%s: %w", task.EntityType, task.UpstreamID, err)
	}

	r.report(integration.StateApplying)
	o, err := e.apply(ctx, r, item)
	if err != nil {
		return err
	}
	r.count(task.EntityType, o)
	if task.EntityType == catalog.EntityTypeCategory && o == outcomeApplied {
		return e.resolveCategories(ctx, r)
	}
	return nil
}

// isStale reports whether the announced version is already applied. The
// check saves an upstream call; the apply path re-checks transactionally.
func (e *Executor) isStale(ctx context.Context, task integration.Task) (bool, error) {
	var apply bool
	key := integration.LedgerKey{TenantID: task.TenantID, EntityType: task.EntityType, UpstreamID: task.UpstreamID}
	err := e.uow.InTenantTx(ctx, task.TenantID, func(ctx context.Context, ledger integration.IdempotencyLedger, _ catalog.Store) error {
		var err error
		apply, err = ledger.ShouldApply(ctx, key, task.Version)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("ledger check: %w", err)
	}
	return !apply, nil
}

// runEntityType re-syncs one entity type when a webhook carried no item id
func (e *Executor) runEntityType(ctx context.Context, r *run) error {
	t := r.task.EntityType
	seen, err := e.paginate(ctx, r, t)
	if err != nil {
		return err
	}
	r.report(integration.StateReconciling)
	if err := e.removeMissing(ctx, r, t, seen); err != nil {
		return err
	}
	if t == catalog.EntityTypeCategory {
		return e.resolveCategories(ctx, r)
	}
	return nil
}
