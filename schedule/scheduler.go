package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zero-day-ai/brain/memerr"
)

// Task is a unit of background maintenance.
type Task struct {
	// Name identifies the task in logs and reports.
	Name string

	// Every is the elapsed-time trigger. Zero disables it.
	Every time.Duration

	// EventThreshold fires the task once this many events have been
	// reported via Notify since the last run. Zero disables it.
	EventThreshold int

	// Run performs one bounded maintenance pass. It must be idempotent:
	// re-running after an interruption must not double-apply work.
	Run func(ctx context.Context) error
}

// Result records the outcome of one task execution.
type Result struct {
	Task     string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// taskState tracks per-task trigger bookkeeping.
type taskState struct {
	task    Task
	lastRun time.Time
	events  int
	running bool
}

// Scheduler triggers registered tasks when their elapsed-time interval has
// passed or their event counter crosses its threshold. It never runs the
// same task concurrently with itself.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	logger *slog.Logger
	tasks  map[string]*taskState
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithLogger sets the logger for task outcomes. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks: make(map[string]*taskState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register adds a task. A task just registered is not considered due until
// its interval elapses or events accumulate; call RunNow for an immediate
// pass. Registering a duplicate name or a task without a Run func fails.
func (s *Scheduler) Register(task Task) error {
	const op = "schedule.Register"

	if task.Name == "" || task.Run == nil {
		return memerr.NewValidationError(op, fmt.Errorf("%w: task needs a name and a run func", memerr.ErrInvalidInput))
	}
	if task.Every <= 0 && task.EventThreshold <= 0 {
		return memerr.NewValidationError(op, fmt.Errorf("%w: task %q has no trigger", memerr.ErrInvalidInput, task.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.Name]; ok {
		return memerr.NewValidationError(op, fmt.Errorf("%w: task %q already registered", memerr.ErrInvalidInput, task.Name))
	}
	s.tasks[task.Name] = &taskState{task: task, lastRun: s.clock.Now()}
	return nil
}

// Notify reports n write events against the named task's counter.
// Unknown names are ignored so callers need not care which tasks exist.
func (s *Scheduler) Notify(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tasks[name]; ok {
		st.events += n
	}
}

// NotifyAll reports n write events to every registered task.
func (s *Scheduler) NotifyAll(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.tasks {
		st.events += n
	}
}

// Tick runs every task that is currently due and returns their results.
// A task is due when its interval has elapsed since the last run, or its
// event counter has reached the threshold. Running resets both triggers.
func (s *Scheduler) Tick(ctx context.Context) []Result {
	due := s.collectDue()

	var results []Result
	for _, st := range due {
		results = append(results, s.execute(ctx, st))
	}
	return results
}

// RunNow executes the named task immediately, regardless of its triggers.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	const op = "schedule.RunNow"

	s.mu.Lock()
	st, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return Result{}, memerr.NewNotFoundError(op, fmt.Errorf("%w: task %q", memerr.ErrNotFound, name))
	}
	if st.running {
		s.mu.Unlock()
		return Result{}, memerr.NewThrottledError(op, fmt.Errorf("%w: task %q is already running", memerr.ErrThrottled, name))
	}
	st.running = true
	s.mu.Unlock()

	return s.execute(ctx, st), nil
}

// Run ticks the scheduler every poll interval until ctx is cancelled.
// Intended to be launched on its own goroutine.
func (s *Scheduler) Run(ctx context.Context, poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// collectDue marks due tasks as running and returns them.
func (s *Scheduler) collectDue() []*taskState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var due []*taskState
	for _, st := range s.tasks {
		if st.running {
			continue
		}
		elapsed := st.task.Every > 0 && now.Sub(st.lastRun) >= st.task.Every
		events := st.task.EventThreshold > 0 && st.events >= st.task.EventThreshold
		if elapsed || events {
			st.running = true
			due = append(due, st)
		}
	}
	return due
}

// execute runs one task pass; the caller must have marked st running.
func (s *Scheduler) execute(ctx context.Context, st *taskState) Result {
	started := s.clock.Now()
	err := st.task.Run(ctx)
	finished := s.clock.Now()

	s.mu.Lock()
	st.lastRun = finished
	st.events = 0
	st.running = false
	s.mu.Unlock()

	res := Result{
		Task:     st.task.Name,
		Started:  started,
		Duration: finished.Sub(started),
		Err:      err,
	}
	if err != nil {
		s.logger.Warn("maintenance task failed",
			"task", st.task.Name,
			"error", err)
	} else {
		s.logger.Debug("maintenance task complete",
			"task", st.task.Name,
			"duration", res.Duration)
	}
	return res
}
