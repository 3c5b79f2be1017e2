package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/brain/memerr"
)

func TestRegisterValidation(t *testing.T) {
	s := New()

	err := s.Register(Task{Name: "", Run: func(ctx context.Context) error { return nil }})
	assert.True(t, memerr.IsKind(err, memerr.KindValidation))

	err = s.Register(Task{Name: "no-run", Every: time.Hour})
	assert.True(t, memerr.IsKind(err, memerr.KindValidation))

	err = s.Register(Task{Name: "no-trigger", Run: func(ctx context.Context) error { return nil }})
	assert.True(t, memerr.IsKind(err, memerr.KindValidation))

	ok := Task{Name: "decay", Every: time.Hour, Run: func(ctx context.Context) error { return nil }}
	require.NoError(t, s.Register(ok))
	err = s.Register(ok)
	assert.True(t, memerr.IsKind(err, memerr.KindValidation), "duplicate registration must fail")
}

func TestElapsedTimeTrigger(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	s := New(WithClock(clock))

	runs := 0
	require.NoError(t, s.Register(Task{
		Name:  "decay",
		Every: time.Hour,
		Run:   func(ctx context.Context) error { runs++; return nil },
	}))

	ctx := context.Background()

	assert.Empty(t, s.Tick(ctx), "not due immediately after registration")

	clock.Advance(30 * time.Minute)
	assert.Empty(t, s.Tick(ctx))

	clock.Advance(31 * time.Minute)
	results := s.Tick(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, "decay", results[0].Task)
	assert.Equal(t, 1, runs)

	// Interval resets after a run.
	assert.Empty(t, s.Tick(ctx))
	clock.Advance(time.Hour)
	assert.Len(t, s.Tick(ctx), 1)
	assert.Equal(t, 2, runs)
}

func TestEventThresholdTrigger(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	s := New(WithClock(clock))

	runs := 0
	require.NoError(t, s.Register(Task{
		Name:           "decay",
		EventThreshold: 5,
		Run:            func(ctx context.Context) error { runs++; return nil },
	}))

	ctx := context.Background()

	s.Notify("decay", 4)
	assert.Empty(t, s.Tick(ctx))

	s.Notify("decay", 1)
	require.Len(t, s.Tick(ctx), 1)
	assert.Equal(t, 1, runs)

	// Counter resets after a run.
	s.Notify("decay", 4)
	assert.Empty(t, s.Tick(ctx))
}

func TestNotifyUnknownTaskIsIgnored(t *testing.T) {
	s := New()
	s.Notify("nope", 10) // must not panic
	s.NotifyAll(3)
}

func TestEitherTriggerFires(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	s := New(WithClock(clock))

	runs := 0
	require.NoError(t, s.Register(Task{
		Name:           "metrics",
		Every:          time.Hour,
		EventThreshold: 100,
		Run:            func(ctx context.Context) error { runs++; return nil },
	}))

	ctx := context.Background()

	// Events hit first.
	s.Notify("metrics", 100)
	require.Len(t, s.Tick(ctx), 1)

	// Then time hits without any events.
	clock.Advance(2 * time.Hour)
	require.Len(t, s.Tick(ctx), 1)
	assert.Equal(t, 2, runs)
}

func TestTaskFailureIsReported(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	s := New(WithClock(clock))

	require.NoError(t, s.Register(Task{
		Name:  "flaky",
		Every: time.Minute,
		Run:   func(ctx context.Context) error { return fmt.Errorf("backing store offline") },
	}))

	clock.Advance(2 * time.Minute)
	results := s.Tick(context.Background())
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestRunNow(t *testing.T) {
	s := New()

	runs := 0
	require.NoError(t, s.Register(Task{
		Name:  "backup",
		Every: 24 * time.Hour,
		Run:   func(ctx context.Context) error { runs++; return nil },
	}))

	res, err := s.RunNow(context.Background(), "backup")
	require.NoError(t, err)
	assert.Equal(t, "backup", res.Task)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, runs)

	_, err = s.RunNow(context.Background(), "missing")
	assert.True(t, memerr.IsKind(err, memerr.KindNotFound))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())
	clock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), clock.Now())
	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
