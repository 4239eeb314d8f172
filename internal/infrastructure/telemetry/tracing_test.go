package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/infrastructure/telemetry"
)

func setupTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	prev := otel.GetTracerProvider()
	exporter := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewTracerProviderWithExporter(exporter, telemetry.Config{
		SamplingRatio: 1,
		Resource:      telemetry.Resource{ServiceName: "shopsync-test"},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("x"))
	tp.EnableSpanProfiles()
	assert.False(t, tp.SpanProfilesEnabled())
	assert.NoError(t, tp.ForceFlush(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartServiceSpan_RecordsAttributesAndStatus(t *testing.T) {
	exporter := setupTracing(t)

	ctx, span := telemetry.StartServiceSpan(context.Background(), "catalogsync", "run",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, "t-1"),
		telemetry.WithAttribute("attempt", 2),
		telemetry.WithSpanKind(trace.SpanKindConsumer),
	)
	assert.NotEmpty(t, telemetry.TraceID(ctx))
	telemetry.SetAttributes(span, "applied", 49, "skipped", int64(1), 42, "ignored")
	telemetry.AddEvent(span, "page_fetched", telemetry.SpanAttrPage, 3)
	telemetry.RecordError(span, errors.New("upstream unavailable"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "catalogsync.run", s.Name)
	assert.Equal(t, trace.SpanKindConsumer, s.SpanKind)
	assert.Equal(t, codes.Error, s.Status.Code)
	assert.Equal(t, "upstream unavailable", s.Status.Description)

	attrs := attrMap(s.Attributes)
	assert.Equal(t, "t-1", attrs["tenant_id"].AsString())
	assert.Equal(t, int64(2), attrs["attempt"].AsInt64())
	assert.Equal(t, int64(49), attrs["applied"].AsInt64())
	assert.Equal(t, int64(1), attrs["skipped"].AsInt64())
	assert.Len(t, attrs, 4)

	require.Len(t, s.Events, 2) // page_fetched + exception
	assert.Equal(t, "page_fetched", s.Events[0].Name)
}

func TestSetOK(t *testing.T) {
	exporter := setupTracing(t)

	_, span := telemetry.StartSpan(context.Background(), "ledger.check")
	telemetry.SetOK(span)
	telemetry.RecordError(span, nil)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, telemetry.TraceID(context.Background()))
}

func TestHelpers_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.SetAttributes(nil, "k", "v")
		telemetry.RecordError(nil, errors.New("x"))
		telemetry.SetOK(nil)
		telemetry.AddEvent(nil, "e")
	})
}
