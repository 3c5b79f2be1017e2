package brain

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// telemetry holds the OpenTelemetry instruments the facade records into.
// With no providers configured every instrument is a no-op.
type telemetry struct {
	tracer trace.Tracer

	// queryDuration records facade query latency in milliseconds, with the
	// tier and whether it finished inside its budget as attributes.
	queryDuration metric.Float64Histogram

	// cacheHits counts query-cache hits and misses by outcome attribute.
	cacheHits metric.Int64Counter

	// tierSkips counts tiers dropped from a bundle for missing their budget.
	tierSkips metric.Int64Counter

	// maintenanceRuns counts maintenance task executions by task and outcome.
	maintenanceRuns metric.Int64Counter
}

// newTelemetry builds the instrument set from the configured providers.
func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	if mp == nil {
		mp = noopmetric.NewMeterProvider()
	}
	if tp == nil {
		tp = nooptrace.NewTracerProvider()
	}

	meter := mp.Meter("github.com/zero-day-ai/brain")
	t := &telemetry{
		tracer: tp.Tracer("github.com/zero-day-ai/brain"),
	}

	var err error
	t.queryDuration, err = meter.Float64Histogram(
		"brain.query.duration",
		metric.WithDescription("Facade query latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create query duration histogram: %w", err)
	}

	t.cacheHits, err = meter.Int64Counter(
		"brain.cache.lookups",
		metric.WithDescription("Query cache lookups by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache counter: %w", err)
	}

	t.tierSkips, err = meter.Int64Counter(
		"brain.query.tier_skips",
		metric.WithDescription("Tiers dropped from a bundle for missing their budget"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tier skip counter: %w", err)
	}

	t.maintenanceRuns, err = meter.Int64Counter(
		"brain.maintenance.runs",
		metric.WithDescription("Maintenance task executions by task and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create maintenance counter: %w", err)
	}

	return t, nil
}
