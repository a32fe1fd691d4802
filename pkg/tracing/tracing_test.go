package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "freightdash", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceFetch_RecordsSpanAndError(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := TraceFetch(context.Background(), "shipments", http.MethodGet, "/shipments/requests")
	RecordError(ctx, errors.New("Load Shipments failed"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "backend.shipments", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestTraceFeedMessage(t *testing.T) {
	rec := installRecorder(t)

	_, span := TraceFeedMessage(context.Background(), "freighter_update")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "feed.freighter_update", ended[0].Name())
}

func TestInjectHeaders(t *testing.T) {
	installRecorder(t)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, span := StartSpan(context.Background(), "outbound")
	defer span.End()

	h := http.Header{}
	InjectHeaders(ctx, propagation.HeaderCarrier(h))
	assert.NotEmpty(t, h.Get("traceparent"))
}
