package working

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
	"github.com/zero-day-ai/brain/schedule"
)

func newTestMemory(t *testing.T, opts ...Option) (*Memory, *schedule.ManualClock) {
	t.Helper()

	store, err := record.Open(filepath.Join(t.TempDir(), "working.db"), Schema)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := schedule.NewManualClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	mem, err := New(store, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return mem, clock
}

func TestStartConversationValidation(t *testing.T) {
	mem, _ := newTestMemory(t)

	_, err := mem.StartConversation(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, memerr.KindValidation, memerr.Kind(err))
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	conv, err := mem.StartConversation(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, mem.AppendTurn(ctx, conv.ID, Turn{Role: RoleUser, Content: "please fix parser.go"}))
	clock.Advance(time.Minute)
	require.NoError(t, mem.AppendTurn(ctx, conv.ID, Turn{Role: RoleAssistant, Content: "done, see ParseQuery()"}))

	got, err := mem.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, RoleUser, got.Turns[0].Role)
	assert.Equal(t, RoleAssistant, got.Turns[1].Role)
	assert.Equal(t, []string{"parser.go"}, got.Files)
	assert.True(t, got.Active())

	var kinds []EntityKind
	for _, e := range got.Entities {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EntityFile)
	assert.Contains(t, kinds, EntitySymbol)
}

func TestAppendTurnValidation(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()

	conv, err := mem.StartConversation(ctx, "sess-1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		convID string
		turn   Turn
		kind   string
	}{
		{"empty conversation id", "", Turn{Role: RoleUser, Content: "hi"}, memerr.KindValidation},
		{"bad role", conv.ID, Turn{Role: "robot", Content: "hi"}, memerr.KindValidation},
		{"empty content", conv.ID, Turn{Role: RoleUser, Content: ""}, memerr.KindValidation},
		{"unknown conversation", "no-such-id", Turn{Role: RoleUser, Content: "hi"}, memerr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mem.AppendTurn(ctx, tt.convID, tt.turn)
			require.Error(t, err)
			assert.Equal(t, tt.kind, memerr.Kind(err))
		})
	}
}

func TestAppendToEndedConversationFails(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()

	conv, err := mem.StartConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, mem.EndConversation(ctx, conv.ID))

	err = mem.AppendTurn(ctx, conv.ID, Turn{Role: RoleUser, Content: "too late"})
	require.Error(t, err)
	assert.Equal(t, memerr.KindValidation, memerr.Kind(err))
}

func TestExtractionFailureDoesNotBlockTurn(t *testing.T) {
	failing := func(string) (Extraction, error) {
		return Extraction{}, fmt.Errorf("extractor blew up")
	}
	mem, _ := newTestMemory(t, WithExtractor(failing))
	ctx := context.Background()

	conv, err := mem.StartConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, mem.AppendTurn(ctx, conv.ID, Turn{Role: RoleUser, Content: "edit main.go"}))

	got, err := mem.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Empty(t, got.Entities)
	assert.Empty(t, got.Files)
}

func TestFIFOBound(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	// Fill to the cap with ended conversations, then one more.
	var ids []string
	for i := 0; i < DefaultRetentionCap+1; i++ {
		conv, err := mem.StartConversation(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		require.NoError(t, mem.EndConversation(ctx, conv.ID))
		ids = append(ids, conv.ID)
		clock.Advance(time.Minute)
	}

	n, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultRetentionCap, n)

	// The oldest conversation was the one evicted.
	_, err = mem.Get(ctx, ids[0])
	require.Error(t, err)
	assert.Equal(t, memerr.KindNotFound, memerr.Kind(err))

	_, err = mem.Get(ctx, ids[1])
	assert.NoError(t, err)
}

func TestActiveConversationsAreNeverEvicted(t *testing.T) {
	mem, clock := newTestMemory(t, WithRetentionCap(2))
	ctx := context.Background()

	first, err := mem.StartConversation(ctx, "sess-open")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	// Blow through the cap while the first conversation stays open.
	for i := 0; i < 5; i++ {
		conv, err := mem.StartConversation(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		require.NoError(t, mem.EndConversation(ctx, conv.ID))
		clock.Advance(time.Minute)
	}

	_, err = mem.Get(ctx, first.ID)
	assert.NoError(t, err, "open conversation must survive any insertion order")
}

func TestPinnedConversationsAreNeverEvicted(t *testing.T) {
	mem, clock := newTestMemory(t, WithRetentionCap(2))
	ctx := context.Background()

	pinned, err := mem.StartConversation(ctx, "sess-pin")
	require.NoError(t, err)
	require.NoError(t, mem.SetPinned(ctx, pinned.ID, true))
	require.NoError(t, mem.EndConversation(ctx, pinned.ID))
	clock.Advance(time.Minute)

	for i := 0; i < 5; i++ {
		conv, err := mem.StartConversation(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		require.NoError(t, mem.EndConversation(ctx, conv.ID))
		clock.Advance(time.Minute)
	}

	got, err := mem.Get(ctx, pinned.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
}

func TestEvictionTieBreaksOnLowestID(t *testing.T) {
	mem, _ := newTestMemory(t, WithRetentionCap(2))
	ctx := context.Background()

	// Two conversations started at the same instant (clock never advances).
	a, err := mem.StartConversation(ctx, "sess-a")
	require.NoError(t, err)
	b, err := mem.StartConversation(ctx, "sess-b")
	require.NoError(t, err)
	require.NoError(t, mem.EndConversation(ctx, a.ID))
	require.NoError(t, mem.EndConversation(ctx, b.ID))

	_, err = mem.StartConversation(ctx, "sess-c")
	require.NoError(t, err)

	lower, higher := a, b
	if b.ID < a.ID {
		lower, higher = b, a
	}
	_, err = mem.Get(ctx, lower.ID)
	require.Error(t, err)
	assert.Equal(t, memerr.KindNotFound, memerr.Kind(err))
	_, err = mem.Get(ctx, higher.ID)
	assert.NoError(t, err)
}

func TestEvictionRemovesAtMostOnePerInsert(t *testing.T) {
	mem, clock := newTestMemory(t, WithRetentionCap(2))
	ctx := context.Background()

	// Build a backlog: five conversations held open past the cap, then all
	// ended. None was evictable while open.
	var convs []*Conversation
	for i := 0; i < 5; i++ {
		conv, err := mem.StartConversation(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		convs = append(convs, conv)
		clock.Advance(time.Minute)
	}
	for _, c := range convs {
		require.NoError(t, mem.EndConversation(ctx, c.ID))
	}

	before, err := mem.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, before)

	// One insert may evict at most one conversation, not the whole backlog.
	_, err = mem.StartConversation(ctx, "sess-new")
	require.NoError(t, err)

	after, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "one in, at most one out")

	// The single victim was the oldest.
	_, err = mem.Get(ctx, convs[0].ID)
	require.Error(t, err)
	assert.Equal(t, memerr.KindNotFound, memerr.Kind(err))
	_, err = mem.Get(ctx, convs[1].ID)
	assert.NoError(t, err)
}

func TestEvictionPrunesOrphanEntities(t *testing.T) {
	mem, clock := newTestMemory(t, WithRetentionCap(1))
	ctx := context.Background()

	conv, err := mem.StartConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, mem.AppendTurn(ctx, conv.ID, Turn{Role: RoleUser, Content: "touch orphan.go"}))
	require.NoError(t, mem.EndConversation(ctx, conv.ID))
	clock.Advance(time.Minute)

	_, err = mem.StartConversation(ctx, "sess-2")
	require.NoError(t, err)

	entities, err := mem.Entities(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entities, "entities referenced only by evicted conversations must be pruned")
}

func TestSearchRanksMatchingConversations(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	hit, err := mem.StartConversation(ctx, "sess-hit")
	require.NoError(t, err)
	require.NoError(t, mem.AppendTurn(ctx, hit.ID, Turn{Role: RoleUser, Content: "the cache invalidation bug strikes again"}))
	clock.Advance(time.Minute)

	miss, err := mem.StartConversation(ctx, "sess-miss")
	require.NoError(t, err)
	require.NoError(t, mem.AppendTurn(ctx, miss.ID, Turn{Role: RoleUser, Content: "unrelated chatter about lunch"}))

	matches, err := mem.Search(ctx, "cache invalidation", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, hit.ID, matches[0].Conversation.ID)
	assert.Greater(t, matches[0].Score, 0.0)
	assert.NotEmpty(t, matches[0].Excerpt)
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	mem, _ := newTestMemory(t)

	matches, err := mem.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCoModifiedPairs(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	// Two separate conversations both touch handler.go and routes.go.
	for i := 0; i < 2; i++ {
		conv, err := mem.StartConversation(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		require.NoError(t, mem.AppendTurn(ctx, conv.ID,
			Turn{Role: RoleUser, Content: "update handler.go and routes.go together"}))
		require.NoError(t, mem.EndConversation(ctx, conv.ID))
		clock.Advance(time.Minute)
	}

	pairs, err := mem.CoModified(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.ElementsMatch(t, []string{"handler.go", "routes.go"}, pairs[0].Files)
	assert.Equal(t, 2, pairs[0].Frequency)
	assert.Greater(t, pairs[0].Confidence, 0.0)
	assert.Less(t, pairs[0].Confidence, 1.0)
}

func TestCoModifiedConfidenceGrowsWithFrequency(t *testing.T) {
	mem, clock := newTestMemory(t, WithRetentionCap(10))
	ctx := context.Background()

	repeat := func(content string, times int) {
		for i := 0; i < times; i++ {
			conv, err := mem.StartConversation(ctx, fmt.Sprintf("s-%s-%d", content[:1], i))
			require.NoError(t, err)
			require.NoError(t, mem.AppendTurn(ctx, conv.ID, Turn{Role: RoleUser, Content: content}))
			require.NoError(t, mem.EndConversation(ctx, conv.ID))
			clock.Advance(time.Minute)
		}
	}
	repeat("change a.go and b.go", 4)
	repeat("change x.go and y.go", 2)

	pairs, err := mem.CoModified(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Greater(t, pairs[0].Frequency, pairs[1].Frequency)
	assert.Greater(t, pairs[0].Confidence, pairs[1].Confidence)
}

func TestEndStale(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	stale, err := mem.StartConversation(ctx, "sess-stale")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	fresh, err := mem.StartConversation(ctx, "sess-fresh")
	require.NoError(t, err)

	n, err := mem.EndStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mem.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, got.EndedAt.IsZero())

	got, err = mem.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.EndedAt.IsZero())
}

func TestGetRecentOrdersByActivity(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	old, err := mem.StartConversation(ctx, "sess-old")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	recent, err := mem.StartConversation(ctx, "sess-recent")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	// Touching the older conversation makes it the most recent.
	require.NoError(t, mem.AppendTurn(ctx, old.ID, Turn{Role: RoleUser, Content: "back to this"}))

	got, err := mem.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, old.ID, got[0].ID)
	assert.Equal(t, recent.ID, got[1].ID)
}

func TestGetRecentForSession(t *testing.T) {
	mem, clock := newTestMemory(t)
	ctx := context.Background()

	mine, err := mem.StartConversation(ctx, "sess-mine")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = mem.StartConversation(ctx, "sess-other")
	require.NoError(t, err)

	got, err := mem.GetRecentForSession(ctx, "sess-mine", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	_, err = mem.GetRecentForSession(ctx, "", 10)
	require.Error(t, err)
	assert.Equal(t, memerr.KindValidation, memerr.Kind(err))
}

func TestSetIntent(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()

	conv, err := mem.StartConversation(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, mem.SetIntent(ctx, conv.ID, "debugging"))

	got, err := mem.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "debugging", got.Intent)

	err = mem.SetIntent(ctx, "no-such-id", "x")
	require.Error(t, err)
	assert.Equal(t, memerr.KindNotFound, memerr.Kind(err))
}
