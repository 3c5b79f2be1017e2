package brain

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/brain/intel"
	"github.com/zero-day-ai/brain/schedule"
)

// Option configures a Brain.
type Option func(*brainConfig)

// brainConfig holds configuration for a Brain instance.
type brainConfig struct {
	cfg        Config
	cfgPath    string
	logger     *slog.Logger
	clock      schedule.Clock
	history    intel.History
	meter      metric.MeterProvider
	tracer     trace.TracerProvider
	background bool
}

// WithConfig replaces the entire configuration. Zero fields still fall
// back to defaults.
func WithConfig(cfg Config) Option {
	return func(c *brainConfig) {
		c.cfg = cfg
	}
}

// WithConfigFile loads configuration from a YAML file at path. Applied
// before any other configuration overrides.
func WithConfigFile(path string) Option {
	return func(c *brainConfig) {
		c.cfgPath = path
	}
}

// WithDataDir overrides where the tier store files live.
func WithDataDir(dir string) Option {
	return func(c *brainConfig) {
		c.cfg.DataDir = dir
	}
}

// WithRepoDir sets the git working copy the intel tier reads.
func WithRepoDir(dir string) Option {
	return func(c *brainConfig) {
		c.cfg.RepoDir = dir
	}
}

// WithRetentionCap bounds the working-memory conversation count.
func WithRetentionCap(n int) Option {
	return func(c *brainConfig) {
		c.cfg.RetentionCap = n
	}
}

// WithLogger sets a custom logger. If not provided, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *brainConfig) {
		c.logger = logger
	}
}

// WithClock sets the time source for all tiers. Defaults to the system
// clock; tests inject a manual one.
func WithClock(clock schedule.Clock) Option {
	return func(c *brainConfig) {
		c.clock = clock
	}
}

// WithHistory replaces the git-backed commit history source. This lets
// tests and non-git deployments feed synthetic history to the intel tier.
func WithHistory(h intel.History) Option {
	return func(c *brainConfig) {
		c.history = h
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for facade
// metrics. If not provided, metrics are no-ops.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *brainConfig) {
		c.meter = mp
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// If not provided, tracing is a no-op.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *brainConfig) {
		c.tracer = tp
	}
}

// WithBackgroundMaintenance starts the maintenance scheduler loop when the
// Brain opens. Off by default so embedders control when work happens.
func WithBackgroundMaintenance() Option {
	return func(c *brainConfig) {
		c.background = true
	}
}
