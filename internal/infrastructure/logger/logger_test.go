package logger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "production config", cfg: ProductionConfig()},
		{name: "nil config", cfg: nil},
		{name: "unknown level", cfg: &Config{Level: "loud", Format: "json"}, wantErr: true},
		{name: "file output", cfg: &Config{Level: "debug", Format: "json", Output: filepath.Join(t.TempDir(), "sync.log")}},
		{name: "unwritable file", cfg: &Config{Level: "info", Output: filepath.Join(t.TempDir(), "missing", "sync.log")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx, _ := WithTenantID(context.Background(), base, "tenant-1")
	ctx, l := WithTaskID(ctx, FromContext(ctx), "task-9")

	assert.Equal(t, "tenant-1", GetTenantID(ctx))
	assert.Equal(t, "task-9", GetTaskID(ctx))
	assert.Empty(t, GetRequestID(ctx))

	l.Info("page fetched")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "tenant-1", fields["tenant_id"])
	assert.Equal(t, "task-9", fields["task_id"])
}

func TestFromContext_NoLogger(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, L(context.Background()))
}

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, WithSlowThreshold(time.Millisecond))

	ctx, _ := WithTenantID(context.Background(), zap.NewNop(), "tenant-7")
	gl.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "tenant-7", entry.ContextMap()["tenant_id"])

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 1, logs.Len())
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("whatever"))
}
