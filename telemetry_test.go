package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestQueryContextRecordsMetricsAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	b, _ := newTestBrain(t, WithMeterProvider(mp), WithTracerProvider(tp))
	ctx := t.Context()

	_, err := b.QueryContext(ctx, Request{Query: "telemetry"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["brain.cache.lookups"])
	assert.True(t, names["brain.query.duration"])

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, "brain.QueryContext", spans[0].Name)
}

func TestNewTelemetryDefaultsToNoop(t *testing.T) {
	tel, err := newTelemetry(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, tel.tracer)
	assert.NotNil(t, tel.queryDuration)
	assert.NotNil(t, tel.cacheHits)
}
