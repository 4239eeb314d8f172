package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database spans.
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL keeps bound variables in db.statement; never in production
	LogFullSQL         bool
	SlowQueryThreshold time.Duration
	DBName             string
}

// DefaultDBTracingConfig returns the production defaults
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThreshold: 200 * time.Millisecond,
		DBName:             "shopsync",
	}
}

// RegisterDBTracing installs the otelgorm plugin and annotates its spans with
// row counts and a slow_query flag.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = DefaultDBTracingConfig().SlowQueryThreshold
	}

	// Registered ahead of otelgorm so the annotation runs while its span is open
	threshold := cfg.SlowQueryThreshold
	if err := registerAround(db, "otel_annotate", stampStart(tracingStartKey), func(db *gorm.DB, _ string) {
		annotateSpan(db, threshold)
	}); err != nil {
		return err
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", threshold),
	)
	return nil
}

func annotateSpan(db *gorm.DB, threshold time.Duration) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		RecordError(span, db.Error)
	}
	if elapsed, ok := sinceStart(ctx, tracingStartKey); ok && elapsed > threshold {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
	}
}

// ---------------------------------------------------------------------------
// Callback plumbing shared with db metrics
// ---------------------------------------------------------------------------

type dbContextKey string

const (
	tracingStartKey dbContextKey = "otel_query_start"
	metricsStartKey dbContextKey = "metrics_query_start"
)

func stampStart(key dbContextKey) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		db.Statement.Context = context.WithValue(ctx, key, time.Now())
	}
}

func sinceStart(ctx context.Context, key dbContextKey) (time.Duration, bool) {
	start, ok := ctx.Value(key).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

// registerAround registers before and after callbacks named prefix:* on every
// GORM processor. after receives the operation implied by the processor; row
// and raw statements report "".
func registerAround(db *gorm.DB, prefix string, before func(*gorm.DB), after func(*gorm.DB, string)) error {
	cb := db.Callback()
	afterOp := func(op string) func(*gorm.DB) {
		return func(db *gorm.DB) { after(db, op) }
	}
	return errors.Join(
		cb.Create().Before("gorm:create").Register(prefix+":before_create", before),
		cb.Query().Before("gorm:query").Register(prefix+":before_query", before),
		cb.Update().Before("gorm:update").Register(prefix+":before_update", before),
		cb.Delete().Before("gorm:delete").Register(prefix+":before_delete", before),
		cb.Row().Before("gorm:row").Register(prefix+":before_row", before),
		cb.Raw().Before("gorm:raw").Register(prefix+":before_raw", before),

		cb.Create().After("gorm:create").Register(prefix+":after_create", afterOp("INSERT")),
		cb.Query().After("gorm:query").Register(prefix+":after_query", afterOp("SELECT")),
		cb.Update().After("gorm:update").Register(prefix+":after_update", afterOp("UPDATE")),
		cb.Delete().After("gorm:delete").Register(prefix+":after_delete", afterOp("DELETE")),
		cb.Row().After("gorm:row").Register(prefix+":after_row", afterOp("")),
		cb.Raw().After("gorm:raw").Register(prefix+":after_raw", afterOp("")),
	)
}
