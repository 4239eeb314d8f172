package telemetry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shopsync/backend/internal/infrastructure/telemetry"
)

type captureExporter struct {
	mu     sync.Mutex
	bodies []string
}

func (e *captureExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.bodies = append(e.bodies, r.Body().AsString())
	}
	return nil
}

func (e *captureExporter) Shutdown(context.Context) error   { return nil }
func (e *captureExporter) ForceFlush(context.Context) error { return nil }

func (e *captureExporter) exported() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bodies...)
}

func TestLoggerProvider_Disabled(t *testing.T) {
	lp, err := telemetry.NewLoggerProvider(context.Background(), telemetry.LogsConfig{}, zap.NewNop())
	require.NoError(t, err)

	base := zap.NewNop()
	assert.False(t, lp.IsEnabled())
	assert.Same(t, base, lp.Bridge(base, "shopsync"))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestLoggerProvider_BridgeExportsAboveLevel(t *testing.T) {
	exporter := &captureExporter{}
	lp := telemetry.NewLoggerProviderWithExporter(exporter, telemetry.LogsConfig{Level: zapcore.WarnLevel}, zap.NewNop())
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	core, observed := observer.New(zapcore.DebugLevel)
	logger := lp.Bridge(zap.New(core), "shopsync")

	logger.Debug("Page fetched")
	logger.Info("Sync task completed")
	logger.Warn("Item rejected by upstream", zap.String("upstream_id", "p-1"))
	logger.With(zap.String("tenant_id", "t-1")).Error("Sync task failed")

	// stdout keeps every entry
	assert.Equal(t, 4, observed.Len())
	assert.Equal(t, []string{"Item rejected by upstream", "Sync task failed"}, exporter.exported())
}
