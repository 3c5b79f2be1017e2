package brain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/brain/memerr"
)

// Config holds brain-level settings. Zero values fall back to defaults, so
// a partial configuration works.
type Config struct {
	// DataDir is where the tier store files live.
	DataDir string

	// RepoDir is the git working copy the intel tier reads. Empty disables
	// git-backed collection unless a History is injected.
	RepoDir string

	// RetentionCap bounds the working-memory conversation count.
	RetentionCap int

	// RulesPath optionally overrides the built-in insight rules.
	RulesPath string

	Budgets     BudgetConfig
	Maintenance MaintenanceConfig
	Cache       CacheConfig
}

// BudgetConfig sets the per-tier read deadlines for facade queries.
// A tier that misses its budget is dropped from the bundle.
type BudgetConfig struct {
	Working   time.Duration
	Knowledge time.Duration
	Intel     time.Duration
}

// MaintenanceConfig tunes the background maintenance schedule.
type MaintenanceConfig struct {
	// Interval is the elapsed-time trigger for the maintenance tasks.
	Interval time.Duration

	// EventThreshold fires maintenance early after this many writes.
	EventThreshold int

	// Poll is how often the scheduler checks its triggers.
	Poll time.Duration

	// StaleAfter closes conversations idle longer than this.
	StaleAfter time.Duration

	// CollectWindow is the history span metric collection covers.
	CollectWindow time.Duration

	// CollectThrottle is the minimum interval between metric collections.
	CollectThrottle time.Duration
}

// CacheConfig tunes the facade's query cache.
type CacheConfig struct {
	// MaxCost is the cache budget in bytes (approximate).
	MaxCost int64

	// TTL bounds how long a cached bundle may serve.
	TTL time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DataDir:      defaultDataDir(),
		RetentionCap: 20,
		Budgets: BudgetConfig{
			Working:   50 * time.Millisecond,
			Knowledge: 150 * time.Millisecond,
			Intel:     200 * time.Millisecond,
		},
		Maintenance: MaintenanceConfig{
			Interval:        24 * time.Hour,
			EventThreshold:  500,
			Poll:            time.Minute,
			StaleAfter:      4 * time.Hour,
			CollectWindow:   30 * 24 * time.Hour,
			CollectThrottle: time.Hour,
		},
		Cache: CacheConfig{
			MaxCost: 16 << 20,
			TTL:     30 * time.Second,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".brain"
	}
	return home + "/.brain"
}

// fileConfig mirrors Config in the shape the YAML file uses: durations are
// strings such as "50ms" or "24h" and get parsed with time.ParseDuration.
type fileConfig struct {
	DataDir      string `yaml:"data_dir"`
	RepoDir      string `yaml:"repo_dir"`
	RetentionCap int    `yaml:"retention_cap"`
	RulesPath    string `yaml:"rules_path"`

	Budgets struct {
		Working   string `yaml:"working"`
		Knowledge string `yaml:"knowledge"`
		Intel     string `yaml:"intel"`
	} `yaml:"budgets"`

	Maintenance struct {
		Interval        string `yaml:"interval"`
		EventThreshold  int    `yaml:"event_threshold"`
		Poll            string `yaml:"poll"`
		StaleAfter      string `yaml:"stale_after"`
		CollectWindow   string `yaml:"collect_window"`
		CollectThrottle string `yaml:"collect_throttle"`
	} `yaml:"maintenance"`

	Cache struct {
		MaxCost int64  `yaml:"max_cost"`
		TTL     string `yaml:"ttl"`
	} `yaml:"cache"`
}

// LoadConfig reads a YAML config file. Fields the file leaves unset keep
// their defaults, so a sparse file works.
func LoadConfig(path string) (Config, error) {
	const op = "brain.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, memerr.NewValidationError(op,
			fmt.Errorf("read config %s: %w", path, err))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, memerr.NewValidationError(op,
			fmt.Errorf("parse config %s: %w", path, err))
	}

	cfg := DefaultConfig()
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.RepoDir != "" {
		cfg.RepoDir = fc.RepoDir
	}
	if fc.RetentionCap != 0 {
		cfg.RetentionCap = fc.RetentionCap
	}
	if fc.RulesPath != "" {
		cfg.RulesPath = fc.RulesPath
	}
	if fc.Maintenance.EventThreshold != 0 {
		cfg.Maintenance.EventThreshold = fc.Maintenance.EventThreshold
	}
	if fc.Cache.MaxCost != 0 {
		cfg.Cache.MaxCost = fc.Cache.MaxCost
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"budgets.working", fc.Budgets.Working, &cfg.Budgets.Working},
		{"budgets.knowledge", fc.Budgets.Knowledge, &cfg.Budgets.Knowledge},
		{"budgets.intel", fc.Budgets.Intel, &cfg.Budgets.Intel},
		{"maintenance.interval", fc.Maintenance.Interval, &cfg.Maintenance.Interval},
		{"maintenance.poll", fc.Maintenance.Poll, &cfg.Maintenance.Poll},
		{"maintenance.stale_after", fc.Maintenance.StaleAfter, &cfg.Maintenance.StaleAfter},
		{"maintenance.collect_window", fc.Maintenance.CollectWindow, &cfg.Maintenance.CollectWindow},
		{"maintenance.collect_throttle", fc.Maintenance.CollectThrottle, &cfg.Maintenance.CollectThrottle},
		{"cache.ttl", fc.Cache.TTL, &cfg.Cache.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, memerr.NewValidationError(op,
				fmt.Errorf("%w: %s: %v", memerr.ErrInvalidInput, d.name, err))
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero fields so a sparse Config stays usable.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.RetentionCap == 0 {
		c.RetentionCap = def.RetentionCap
	}
	if c.Budgets.Working == 0 {
		c.Budgets.Working = def.Budgets.Working
	}
	if c.Budgets.Knowledge == 0 {
		c.Budgets.Knowledge = def.Budgets.Knowledge
	}
	if c.Budgets.Intel == 0 {
		c.Budgets.Intel = def.Budgets.Intel
	}
	if c.Maintenance.Interval == 0 {
		c.Maintenance.Interval = def.Maintenance.Interval
	}
	if c.Maintenance.EventThreshold == 0 {
		c.Maintenance.EventThreshold = def.Maintenance.EventThreshold
	}
	if c.Maintenance.Poll == 0 {
		c.Maintenance.Poll = def.Maintenance.Poll
	}
	if c.Maintenance.StaleAfter == 0 {
		c.Maintenance.StaleAfter = def.Maintenance.StaleAfter
	}
	if c.Maintenance.CollectWindow == 0 {
		c.Maintenance.CollectWindow = def.Maintenance.CollectWindow
	}
	if c.Maintenance.CollectThrottle == 0 {
		c.Maintenance.CollectThrottle = def.Maintenance.CollectThrottle
	}
	if c.Cache.MaxCost == 0 {
		c.Cache.MaxCost = def.Cache.MaxCost
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = def.Cache.TTL
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	const op = "brain.Config.Validate"

	switch {
	case c.DataDir == "":
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: data_dir is required", memerr.ErrInvalidInput))
	case c.RetentionCap < 1:
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: retention_cap must be >= 1, got %d", memerr.ErrInvalidInput, c.RetentionCap))
	case c.Budgets.Working <= 0 || c.Budgets.Knowledge <= 0 || c.Budgets.Intel <= 0:
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: tier budgets must be positive", memerr.ErrInvalidInput))
	case c.Maintenance.Interval <= 0:
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: maintenance interval must be positive", memerr.ErrInvalidInput))
	case c.Cache.MaxCost <= 0:
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: cache max_cost must be positive", memerr.ErrInvalidInput))
	}
	return nil
}
