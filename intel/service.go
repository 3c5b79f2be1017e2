package intel

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
	"github.com/zero-day-ai/brain/schedule"
)

const (
	timeFmt = time.RFC3339Nano
	dayFmt  = "2006-01-02"
)

// DefaultThrottle is the minimum interval between metric collections.
const DefaultThrottle = time.Hour

// stateTable and collectKey address the throttle stamp in the record store's
// generic KV space.
const (
	stateTable = "intel_state"
	collectKey = "last_collect"
)

// Schema is the Tier C database schema. Snapshots are append-only per date;
// insights are fully replaced on each generation pass.
var Schema = record.Schema{
	Name:    "intel",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS snapshots (
    date          TEXT PRIMARY KEY,
    commits       INTEGER NOT NULL,
    lines_added   INTEGER NOT NULL,
    lines_removed INTEGER NOT NULL,
    contributors  INTEGER NOT NULL,
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS insights (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    severity   TEXT NOT NULL,
    message    TEXT NOT NULL,
    path       TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
`,
}

// Service is the context-intelligence tier.
type Service struct {
	store    *record.Store
	clock    schedule.Clock
	history  History
	rules    *RuleSet
	throttle time.Duration
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source. Tests use a manual clock.
func WithClock(clock schedule.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithHistory sets the repository history source.
func WithHistory(h History) Option {
	return func(s *Service) { s.history = h }
}

// WithThrottle overrides the minimum interval between collections.
func WithThrottle(d time.Duration) Option {
	return func(s *Service) { s.throttle = d }
}

// WithRules replaces the default insight rule set.
func WithRules(rs *RuleSet) Option {
	return func(s *Service) { s.rules = rs }
}

// WithLogger sets the logger for collection and generation events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New builds a Service on top of an opened record store. The default
// history source reads git from repoDir.
func New(store *record.Store, repoDir string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, memerr.NewValidationError("intel.New",
			fmt.Errorf("%w: nil store", memerr.ErrInvalidInput))
	}
	s := &Service{
		store:    store,
		clock:    schedule.SystemClock{},
		history:  GitHistory{Dir: repoDir},
		throttle: DefaultThrottle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rules == nil {
		rs, err := DefaultRules()
		if err != nil {
			return nil, err
		}
		s.rules = rs
	}
	return s, nil
}

// collectStamp is the throttle bookkeeping kept in the record KV space.
type collectStamp struct {
	At time.Time `json:"at"`
}

// CollectGitMetrics appends one snapshot per day found in the window.
// Re-collecting a date is a no-op: snapshots are immutable once written.
// Inside the throttle interval no history is read; the prior snapshots come
// back with a throttled error the caller treats as a cache hit.
func (s *Service) CollectGitMetrics(ctx context.Context, window time.Duration) ([]MetricSnapshot, error) {
	const op = "intel.CollectGitMetrics"

	if window <= 0 {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: window must be positive", memerr.ErrInvalidInput))
	}
	now := s.clock.Now().UTC()

	var stamp collectStamp
	err := s.store.Get(ctx, stateTable, collectKey, &stamp)
	if err == nil && now.Sub(stamp.At) < s.throttle {
		snaps, err := s.Snapshots(ctx, window)
		if err != nil {
			return nil, err
		}
		return snaps, memerr.NewThrottledError(op, memerr.ErrThrottled).
			WithContext(map[string]any{
				"last_collected": stamp.At,
				"throttle":       s.throttle.String(),
			})
	}
	if err != nil && !memerr.IsKind(err, memerr.KindNotFound) {
		return nil, err
	}

	commits, err := s.history.Log(ctx, now.Add(-window))
	if err != nil {
		return nil, err
	}

	type day struct {
		commits      int
		added        int
		removed      int
		contributors map[string]bool
	}
	days := make(map[string]*day)
	for _, c := range commits {
		key := c.When.UTC().Format(dayFmt)
		d := days[key]
		if d == nil {
			d = &day{contributors: make(map[string]bool)}
			days[key] = d
		}
		d.commits++
		d.contributors[c.Author] = true
		for _, f := range c.Files {
			d.added += f.Added
			d.removed += f.Removed
		}
	}

	err = s.store.Tx(ctx, func(tx *sql.Tx) error {
		for date, d := range days {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO snapshots
				    (date, commits, lines_added, lines_removed, contributors, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				date, d.commits, d.added, d.removed, len(d.contributors),
				now.Format(timeFmt))
			if err != nil {
				return memerr.NewInternalError(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, stateTable, collectKey, collectStamp{At: now}); err != nil {
		return nil, err
	}

	s.logger.Debug("git metrics collected",
		"window", window.String(),
		"days", len(days))
	return s.Snapshots(ctx, window)
}

// Snapshots returns the stored snapshots inside the window, oldest first.
func (s *Service) Snapshots(ctx context.Context, window time.Duration) ([]MetricSnapshot, error) {
	const op = "intel.Snapshots"

	since := s.clock.Now().UTC().Add(-window).Format(dayFmt)
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT date, commits, lines_added, lines_removed, contributors
		FROM snapshots
		WHERE date >= ?
		ORDER BY date ASC`, since)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []MetricSnapshot
	for rows.Next() {
		var snap MetricSnapshot
		err := rows.Scan(&snap.Date, &snap.Commits, &snap.LinesAdded,
			&snap.LinesRemoved, &snap.Contributors)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return out, nil
}

// Insights returns the insights from the latest generation pass, ordered by
// severity descending.
func (s *Service) Insights(ctx context.Context) ([]Insight, error) {
	const op = "intel.Insights"

	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, kind, severity, message, path, created_at
		FROM insights`)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		var created string
		err := rows.Scan(&in.ID, &in.Kind, &in.Severity, &in.Message, &in.Path, &created)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		in.CreatedAt, _ = time.Parse(timeFmt, created)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	sortInsights(out)
	return out, nil
}
