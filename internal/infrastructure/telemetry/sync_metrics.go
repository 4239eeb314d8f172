package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics records catalog sync activity: task outcomes, per-item results,
// rate-limit denials and task duration.
type SyncMetrics struct {
	logger *zap.Logger

	tasksTotal      *Counter
	itemsTotal      *Counter
	rateDenials     *Counter
	taskDuration    *Histogram
	queueDepth      *Gauge
	droppedCatLinks *Counter
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewSyncMetrics creates the sync instruments on cfg.Meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{logger: logger}

	var err error
	sm.tasksTotal, err = NewCounter(cfg.Meter,
		"sync_tasks_total",
		"Sync task executions by mode and outcome",
		"{tasks}",
	)
	if err != nil {
		return nil, err
	}

	sm.itemsTotal, err = NewCounter(cfg.Meter,
		"sync_items_total",
		"Catalog items processed by entity type and result",
		"{items}",
	)
	if err != nil {
		return nil, err
	}

	sm.rateDenials, err = NewCounter(cfg.Meter,
		"ratelimit_denials_total",
		"Upstream calls that had to wait for a rate grant",
		"{denials}",
	)
	if err != nil {
		return nil, err
	}

	sm.droppedCatLinks, err = NewCounter(cfg.Meter,
		"sync_category_links_dropped_total",
		"Category parent links dropped to break cycles",
		"{links}",
	)
	if err != nil {
		return nil, err
	}

	sm.taskDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "sync_task_duration_seconds",
		Description: "Duration of sync task executions",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	sm.queueDepth, err = NewGauge(cfg.Meter,
		"sync_queue_depth",
		"Sync tasks waiting for a worker",
		"{tasks}",
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// Task outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Item results
const (
	ItemApplied   = "applied"
	ItemUnchanged = "unchanged"
	ItemSkipped   = "skipped"
	ItemDeleted   = "deleted"
)

// RecordTask records one finished task execution.
func (sm *SyncMetrics) RecordTask(ctx context.Context, mode, outcome string, d time.Duration) {
	sm.tasksTotal.Inc(ctx, AttrSyncMode.String(mode), AttrOutcome.String(outcome))
	sm.taskDuration.RecordDuration(ctx, d, AttrSyncMode.String(mode), AttrOutcome.String(outcome))
}

// RecordItems adds n items of entityType with the given result.
func (sm *SyncMetrics) RecordItems(ctx context.Context, entityType, result string, n int) {
	if n <= 0 {
		return
	}
	sm.itemsTotal.Add(ctx, int64(n), AttrEntityType.String(entityType), AttrItemResult.String(result))
}

// RecordRateDenials adds n rate-limit waits.
func (sm *SyncMetrics) RecordRateDenials(ctx context.Context, n int64) {
	if n <= 0 {
		return
	}
	sm.rateDenials.Add(ctx, n)
}

// RecordDroppedLinks adds n category links dropped while breaking cycles.
func (sm *SyncMetrics) RecordDroppedLinks(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	sm.droppedCatLinks.Add(ctx, int64(n))
}

// RecordQueueDepth sets the number of queued tasks.
func (sm *SyncMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	sm.queueDepth.Record(ctx, int64(depth))
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
