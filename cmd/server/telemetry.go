package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shopsync/backend/internal/infrastructure/config"
	"github.com/shopsync/backend/internal/infrastructure/telemetry"
)

// observability bundles the telemetry providers so they can be shut down together
type observability struct {
	tracer   *telemetry.TracerProvider
	meter    *telemetry.MeterProvider
	logs     *telemetry.LoggerProvider
	profiler *telemetry.Profiler
}

func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig, log *zap.Logger) (*observability, error) {
	res := telemetry.Resource{ServiceName: cfg.ServiceName, ServiceVersion: version}
	obs := &observability{}

	var err error
	obs.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		SamplingRatio:     cfg.SamplingRatio,
		Insecure:          cfg.Insecure,
		Resource:          res,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("tracer provider: %w", err)
	}

	obs.meter, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ExportInterval:    cfg.MetricsInterval,
		Insecure:          cfg.Insecure,
		Resource:          res,
	}, log)
	if err != nil {
		obs.shutdown(log)
		return nil, fmt.Errorf("meter provider: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.LogsLevel)
	if err != nil {
		obs.shutdown(log)
		return nil, fmt.Errorf("telemetry.logs_level: %w", err)
	}
	obs.logs, err = telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Enabled && cfg.LogsEnabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		Insecure:          cfg.Insecure,
		Level:             level,
		Resource:          res,
	}, log)
	if err != nil {
		obs.shutdown(log)
		return nil, fmt.Errorf("logger provider: %w", err)
	}

	obs.profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.ProfilingEnabled,
		ServerAddress:   cfg.PyroscopeAddress,
		ApplicationName: cfg.ServiceName,
		ProfileTypes:    cfg.ProfileTypes,
	}, log)
	if err != nil {
		obs.shutdown(log)
		return nil, fmt.Errorf("profiler: %w", err)
	}
	if cfg.SpanProfiles && obs.profiler.IsEnabled() {
		obs.tracer.EnableSpanProfiles()
	}
	return obs, nil
}

// shutdown flushes and stops every provider that was created
func (o *observability) shutdown(log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if o.profiler != nil {
		if err := o.profiler.Stop(); err != nil {
			log.Warn("Failed to stop profiler", zap.Error(err))
		}
	}
	if o.logs != nil {
		if err := o.logs.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down logger provider", zap.Error(err))
		}
	}
	if o.meter != nil {
		if err := o.meter.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down meter provider", zap.Error(err))
		}
	}
	if o.tracer != nil {
		if err := o.tracer.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down tracer provider", zap.Error(err))
		}
	}
}
