package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zero-day-ai/brain/health"
	"github.com/zero-day-ai/brain/intel"
	"github.com/zero-day-ai/brain/knowledge"
	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
	"github.com/zero-day-ai/brain/schedule"
	"github.com/zero-day-ai/brain/working"
)

// defaultQueryLimit bounds per-tier results when a request leaves Limit unset.
const defaultQueryLimit = 5

// cacheEntryCost is the flat cost charged per cached bundle. Bundles are
// small and short-lived; precise byte accounting is not worth the marshal.
const cacheEntryCost = 1 << 10

// Maintenance task names, used in reports and scheduler registration.
const (
	taskDecay    = "knowledge-decay"
	taskCollect  = "collect-metrics"
	taskInsights = "generate-insights"
	taskEndStale = "end-stale"
	taskBackup   = "backup"
)

// Brain is the facade over the three memory tiers. It owns one store per
// tier, a query cache, and the maintenance scheduler. All methods are safe
// for concurrent use.
type Brain struct {
	cfg    Config
	logger *slog.Logger
	clock  schedule.Clock

	workingStore   *record.Store
	knowledgeStore *record.Store
	intelStore     *record.Store

	working   *working.Memory
	knowledge *knowledge.Graph
	intel     *intel.Service

	cache *ristretto.Cache
	tel   *telemetry
	sched *schedule.Scheduler

	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New opens the tier stores under the configured data directory and wires
// the tiers together. With WithBackgroundMaintenance the scheduler loop
// starts immediately; otherwise maintenance runs only via RunMaintenance.
func New(opts ...Option) (*Brain, error) {
	const op = "brain.New"

	var bc brainConfig
	for _, opt := range opts {
		opt(&bc)
	}
	if bc.cfgPath != "" {
		loaded, err := LoadConfig(bc.cfgPath)
		if err != nil {
			return nil, err
		}
		// The file is the base; explicit options win over it.
		bc.cfg = loaded
		for _, opt := range opts {
			opt(&bc)
		}
	}

	cfg := bc.cfg
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := bc.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := bc.clock
	if clock == nil {
		clock = schedule.SystemClock{}
	}

	backupDir := filepath.Join(cfg.DataDir, "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, memerr.NewInternalError(op,
			fmt.Errorf("create data dir: %w", err))
	}

	b := &Brain{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
	}

	openTier := func(name string, schema record.Schema) (*record.Store, error) {
		return record.Open(filepath.Join(cfg.DataDir, name+".db"), schema,
			record.WithLogger(logger),
			record.WithBackupPath(filepath.Join(backupDir, name+".db")))
	}

	var err error
	if b.workingStore, err = openTier("working", working.Schema); err != nil {
		b.closeStores()
		return nil, err
	}
	if b.knowledgeStore, err = openTier("knowledge", knowledge.Schema); err != nil {
		b.closeStores()
		return nil, err
	}
	if b.intelStore, err = openTier("intel", intel.Schema); err != nil {
		b.closeStores()
		return nil, err
	}

	b.working, err = working.New(b.workingStore,
		working.WithClock(clock),
		working.WithRetentionCap(cfg.RetentionCap),
		working.WithLogger(logger))
	if err != nil {
		b.closeStores()
		return nil, err
	}

	b.knowledge, err = knowledge.New(b.knowledgeStore,
		knowledge.WithClock(clock),
		knowledge.WithLogger(logger))
	if err != nil {
		b.closeStores()
		return nil, err
	}

	intelOpts := []intel.Option{
		intel.WithClock(clock),
		intel.WithLogger(logger),
		intel.WithThrottle(cfg.Maintenance.CollectThrottle),
	}
	if bc.history != nil {
		intelOpts = append(intelOpts, intel.WithHistory(bc.history))
	}
	if cfg.RulesPath != "" {
		rules, err := loadRuleFile(cfg.RulesPath)
		if err != nil {
			b.closeStores()
			return nil, err
		}
		intelOpts = append(intelOpts, intel.WithRules(rules))
	}
	b.intel, err = intel.New(b.intelStore, cfg.RepoDir, intelOpts...)
	if err != nil {
		b.closeStores()
		return nil, err
	}

	b.cache, err = ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     cfg.Cache.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		b.closeStores()
		return nil, memerr.NewInternalError(op,
			fmt.Errorf("create query cache: %w", err))
	}

	b.tel, err = newTelemetry(bc.meter, bc.tracer)
	if err != nil {
		b.cache.Close()
		b.closeStores()
		return nil, memerr.NewInternalError(op, err)
	}

	b.sched = schedule.New(
		schedule.WithClock(clock),
		schedule.WithLogger(logger))
	if err := b.registerTasks(); err != nil {
		b.cache.Close()
		b.closeStores()
		return nil, err
	}

	if bc.background {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		go func() {
			defer close(b.done)
			b.sched.Run(ctx, cfg.Maintenance.Poll)
		}()
	}

	logger.Info("brain opened",
		"data_dir", cfg.DataDir,
		"retention_cap", cfg.RetentionCap,
		"background", bc.background)
	return b, nil
}

func loadRuleFile(path string) (*intel.RuleSet, error) {
	const op = "brain.loadRuleFile"

	f, err := os.Open(path)
	if err != nil {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("open rules %s: %w", path, err))
	}
	defer f.Close()
	return intel.LoadRules(f)
}

func (b *Brain) registerTasks() error {
	m := b.cfg.Maintenance
	tasks := []schedule.Task{
		{
			Name:           taskDecay,
			Every:          m.Interval,
			EventThreshold: m.EventThreshold,
			Run: func(ctx context.Context) error {
				_, err := b.knowledge.ApplyDecay(ctx, time.Time{})
				return err
			},
		},
		{
			Name:  taskCollect,
			Every: m.CollectThrottle,
			Run: func(ctx context.Context) error {
				_, err := b.intel.CollectGitMetrics(ctx, m.CollectWindow)
				if memerr.IsKind(err, memerr.KindThrottled) {
					return nil
				}
				return err
			},
		},
		{
			Name:           taskInsights,
			Every:          m.Interval,
			EventThreshold: m.EventThreshold,
			Run: func(ctx context.Context) error {
				_, err := b.intel.GenerateInsights(ctx)
				return err
			},
		},
		{
			Name:  taskEndStale,
			Every: m.StaleAfter,
			Run: func(ctx context.Context) error {
				_, err := b.working.EndStale(ctx, m.StaleAfter)
				return err
			},
		},
		{
			Name:  taskBackup,
			Every: m.Interval,
			Run:   b.backupStores,
		},
	}
	for _, t := range tasks {
		if err := b.sched.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (b *Brain) backupStores(ctx context.Context) error {
	return errors.Join(
		b.workingStore.Backup(ctx),
		b.knowledgeStore.Backup(ctx),
		b.intelStore.Backup(ctx))
}

// Working exposes the Tier A conversation memory.
func (b *Brain) Working() *working.Memory { return b.working }

// Knowledge exposes the Tier B knowledge graph.
func (b *Brain) Knowledge() *knowledge.Graph { return b.knowledge }

// Intel exposes the Tier C context intelligence service.
func (b *Brain) Intel() *intel.Service { return b.intel }

// QueryContext assembles a context bundle from all three tiers. Each tier
// reads under its own time budget; a tier that misses its budget or fails
// is dropped from the bundle and listed in Skipped rather than blocking
// the whole query. Bundles are cached briefly; any write clears the cache.
func (b *Brain) QueryContext(ctx context.Context, req Request) (ContextBundle, error) {
	const op = "brain.QueryContext"

	limit := req.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	key := fmt.Sprintf("%s|%s|%d|%.3f", req.Query, req.SessionID, limit, req.MinConfidence)
	if v, ok := b.cache.Get(key); ok {
		if bundle, ok := v.(ContextBundle); ok {
			b.tel.cacheHits.Add(ctx, 1,
				metric.WithAttributes(attribute.String("outcome", "hit")))
			return bundle, nil
		}
	}
	b.tel.cacheHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", "miss")))

	ctx, span := b.tel.tracer.Start(ctx, "brain.QueryContext")
	defer span.End()

	var (
		mu      sync.Mutex
		bundle  ContextBundle
		skipped []string
	)
	skip := func(tier string) {
		mu.Lock()
		skipped = append(skipped, tier)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	runTier := func(tier string, budget time.Duration, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			start := time.Now()
			err := fn(tctx)
			elapsed := time.Since(start)

			b.tel.queryDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond),
				metric.WithAttributes(
					attribute.String("tier", tier),
					attribute.Bool("ok", err == nil)))
			if err != nil {
				b.tel.tierSkips.Add(ctx, 1,
					metric.WithAttributes(attribute.String("tier", tier)))
				b.logger.Warn("tier dropped from bundle",
					"op", op, "tier", tier, "error", err)
				skip(tier)
			}
		}()
	}

	runTier("working", b.cfg.Budgets.Working, func(ctx context.Context) error {
		var recent []working.Conversation
		var err error
		if req.SessionID != "" {
			recent, err = b.working.GetRecentForSession(ctx, req.SessionID, limit)
		} else {
			recent, err = b.working.GetRecent(ctx, limit)
		}
		if err != nil {
			return err
		}
		var matches []working.Match
		if req.Query != "" {
			if matches, err = b.working.Search(ctx, req.Query, limit); err != nil {
				return err
			}
		}
		mu.Lock()
		bundle.Recent = recent
		bundle.Conversations = matches
		mu.Unlock()
		return nil
	})

	runTier("knowledge", b.cfg.Budgets.Knowledge, func(ctx context.Context) error {
		if req.Query == "" {
			return nil
		}
		patterns, err := b.knowledge.SearchPatterns(ctx, req.Query, req.MinConfidence, limit)
		if err != nil {
			return err
		}
		mu.Lock()
		bundle.Patterns = patterns
		mu.Unlock()
		return nil
	})

	runTier("intel", b.cfg.Budgets.Intel, func(ctx context.Context) error {
		insights, err := b.intel.Insights(ctx)
		if err != nil {
			return err
		}
		if len(insights) > limit {
			insights = insights[:limit]
		}
		mu.Lock()
		bundle.Insights = insights
		mu.Unlock()
		return nil
	})

	wg.Wait()

	sort.Strings(skipped)
	bundle.Skipped = skipped
	bundle.Partial = len(skipped) > 0

	b.cache.SetWithTTL(key, bundle, cacheEntryCost, b.cfg.Cache.TTL)
	return bundle, nil
}

// RecordInteraction is the single write entry point for conversation data.
// It starts a conversation when none is given, appends the turns in order,
// and optionally ends the conversation. Returns the conversation ID.
func (b *Brain) RecordInteraction(ctx context.Context, in Interaction) (string, error) {
	const op = "brain.RecordInteraction"

	if in.ConversationID == "" && in.SessionID == "" {
		return "", memerr.NewValidationError(op,
			fmt.Errorf("%w: session_id or conversation_id is required", memerr.ErrInvalidInput))
	}
	if len(in.Turns) == 0 && !in.End && in.Intent == "" {
		return "", memerr.NewValidationError(op,
			fmt.Errorf("%w: interaction has nothing to record", memerr.ErrInvalidInput))
	}

	id := in.ConversationID
	if id == "" {
		conv, err := b.working.StartConversation(ctx, in.SessionID)
		if err != nil {
			return "", err
		}
		id = conv.ID
	}

	if in.Intent != "" {
		if err := b.working.SetIntent(ctx, id, in.Intent); err != nil {
			return "", err
		}
	}
	for _, turn := range in.Turns {
		if err := b.working.AppendTurn(ctx, id, turn); err != nil {
			return "", err
		}
	}
	if in.End {
		if err := b.working.EndConversation(ctx, id); err != nil {
			return "", err
		}
	}

	b.invalidate(max(1, len(in.Turns)))
	return id, nil
}

// AddPattern stores a pattern in the knowledge graph and returns its ID.
func (b *Brain) AddPattern(ctx context.Context, p knowledge.Pattern) (string, error) {
	id, err := b.knowledge.AddPattern(ctx, p)
	if err != nil {
		return "", err
	}
	b.invalidate(1)
	return id, nil
}

// LinkPatterns adds a typed relationship between two existing patterns.
func (b *Brain) LinkPatterns(ctx context.Context, from, to string, kind knowledge.RelationKind, strength float64) error {
	if err := b.knowledge.LinkPatterns(ctx, from, to, kind, strength); err != nil {
		return err
	}
	b.invalidate(1)
	return nil
}

// ReinforcePattern nudges a pattern's confidence and marks it used.
func (b *Brain) ReinforcePattern(ctx context.Context, id string, delta float64) error {
	if err := b.knowledge.Reinforce(ctx, id, delta); err != nil {
		return err
	}
	b.invalidate(1)
	return nil
}

// invalidate clears the query cache and credits the maintenance triggers.
func (b *Brain) invalidate(events int) {
	b.cache.Clear()
	b.sched.NotifyAll(events)
}

// RunMaintenance executes one full maintenance pass synchronously: decay,
// stale-conversation cleanup, metric collection, insight generation, and
// store backups. A throttled collection is not a failure. Individual task
// errors land in the report rather than aborting the pass.
func (b *Brain) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport

	run := func(name string, fn func(ctx context.Context) error) {
		start := b.clock.Now()
		err := fn(ctx)
		tr := TaskReport{Name: name, Duration: b.clock.Now().Sub(start)}
		outcome := "ok"
		if err != nil {
			tr.Error = err.Error()
			outcome = "error"
			b.logger.Warn("maintenance task failed", "task", name, "error", err)
		}
		b.tel.maintenanceRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task", name),
			attribute.String("outcome", outcome)))
		report.Tasks = append(report.Tasks, tr)
	}

	run(taskDecay, func(ctx context.Context) error {
		decay, err := b.knowledge.ApplyDecay(ctx, time.Time{})
		if err != nil {
			return err
		}
		report.Decay = decay
		return nil
	})

	run(taskEndStale, func(ctx context.Context) error {
		ended, err := b.working.EndStale(ctx, b.cfg.Maintenance.StaleAfter)
		if err != nil {
			return err
		}
		report.StaleEnded = ended
		return nil
	})

	run(taskCollect, func(ctx context.Context) error {
		_, err := b.intel.CollectGitMetrics(ctx, b.cfg.Maintenance.CollectWindow)
		if memerr.IsKind(err, memerr.KindThrottled) {
			return nil
		}
		return err
	})

	run(taskInsights, func(ctx context.Context) error {
		insights, err := b.intel.GenerateInsights(ctx)
		if err != nil {
			return err
		}
		report.Insights = len(insights)
		return nil
	})

	run(taskBackup, b.backupStores)

	b.cache.Clear()
	return report, nil
}

// Health probes every tier's store plus the external dependencies the
// intel tier needs. The overall status follows the worst check.
func (b *Brain) Health(ctx context.Context) HealthReport {
	tiers := map[string]health.Status{
		"working":   health.StoreCheck(ctx, "working", b.workingStore),
		"knowledge": health.StoreCheck(ctx, "knowledge", b.knowledgeStore),
		"intel":     health.StoreCheck(ctx, "intel", b.intelStore),
		"data_dir":  health.FileCheck(b.cfg.DataDir),
		"git":       health.BinaryCheck("git"),
	}

	checks := make([]health.Status, 0, len(tiers))
	for _, name := range []string{"working", "knowledge", "intel", "data_dir", "git"} {
		checks = append(checks, tiers[name])
	}
	return HealthReport{
		Overall: health.Combine(checks...),
		Tiers:   tiers,
	}
}

// Stats reports a coarse census across the tiers.
func (b *Brain) Stats(ctx context.Context) (Stats, error) {
	conversations, err := b.working.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	patterns, err := b.knowledge.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	insights, err := b.intel.Insights(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Conversations: conversations,
		Patterns:      patterns,
		Insights:      len(insights),
	}, nil
}

// Close stops background maintenance and closes the tier stores. Safe to
// call more than once.
func (b *Brain) Close() error {
	b.closeOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
			<-b.done
		}
		if b.cache != nil {
			b.cache.Close()
		}
		b.closeErr = b.closeStores()
		b.logger.Info("brain closed")
	})
	return b.closeErr
}

func (b *Brain) closeStores() error {
	var errs []error
	for _, s := range []*record.Store{b.workingStore, b.knowledgeStore, b.intelStore} {
		if s != nil {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
