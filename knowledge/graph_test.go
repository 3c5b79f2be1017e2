package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
	"github.com/zero-day-ai/brain/schedule"
)

func newTestGraph(t *testing.T) (*Graph, *schedule.ManualClock) {
	t.Helper()

	store, err := record.Open(filepath.Join(t.TempDir(), "knowledge.db"), Schema)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := schedule.NewManualClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	g, err := New(store, WithClock(clock))
	require.NoError(t, err)
	return g, clock
}

func TestPatternRoundTrip(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	id, err := g.AddPattern(ctx, Pattern{
		Title:      "Refactoring Workflow",
		Body:       "extract, test, rename, test again",
		Kind:       KindWorkflow,
		Confidence: 0.8,
		Tags:       []string{"refactor", "Testing"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := g.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Refactoring Workflow", got.Title)
	assert.Equal(t, "extract, test, rename, test again", got.Body)
	assert.Equal(t, KindWorkflow, got.Kind)
	assert.Equal(t, []string{"refactor", "testing"}, got.Tags)
	assert.Equal(t, 1, got.AccessCount, "reading counts as use")

	// A second read increments again and moves last_accessed forward.
	first := got.LastAccessed
	got, err = g.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	assert.False(t, got.LastAccessed.Before(first))
}

func TestAddPatternValidation(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		pattern Pattern
	}{
		{"missing title", Pattern{Kind: KindSolution}},
		{"bad kind", Pattern{Title: "x", Kind: "mystery"}},
		{"confidence above range", Pattern{Title: "x", Kind: KindSolution, Confidence: 1.5}},
		{"confidence below range", Pattern{Title: "x", Kind: KindSolution, Confidence: -0.1}},
		{"meta without payload", Pattern{Title: "x", Kind: KindSolution, Meta: &Meta{Kind: MetaCommand}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.AddPattern(ctx, tt.pattern)
			require.Error(t, err)
			assert.Equal(t, memerr.KindValidation, memerr.Kind(err))
		})
	}
}

func TestAddPatternZeroConfidenceMeansUnset(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	id, err := g.AddPattern(ctx, Pattern{Title: "untried approach", Kind: KindSolution})
	require.NoError(t, err)

	got, err := g.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Confidence)

	// A deliberately weak pattern uses a small positive value instead.
	weak, err := g.AddPattern(ctx, Pattern{Title: "long shot", Kind: KindSolution, Confidence: 0.05})
	require.NoError(t, err)
	got, err = g.GetPattern(ctx, weak)
	require.NoError(t, err)
	assert.Equal(t, 0.05, got.Confidence)
}

func TestUpdatePattern(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	id, err := g.AddPattern(ctx, Pattern{
		Title: "Old Title", Kind: KindPrinciple, Tags: []string{"a"},
	})
	require.NoError(t, err)

	title := "New Title"
	tags := []string{"b", "c"}
	require.NoError(t, g.UpdatePattern(ctx, id, PatternUpdate{Title: &title, Tags: &tags}))

	got, err := g.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New Title", got.Title)
	assert.Equal(t, []string{"b", "c"}, got.Tags)

	err = g.UpdatePattern(ctx, "no-such-id", PatternUpdate{Title: &title})
	require.Error(t, err)
	assert.Equal(t, memerr.KindNotFound, memerr.Kind(err))

	err = g.UpdatePattern(ctx, id, PatternUpdate{})
	require.Error(t, err)
	assert.Equal(t, memerr.KindValidation, memerr.Kind(err))
}

func TestDeletePatternCascades(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	p1, err := g.AddPattern(ctx, Pattern{Title: "P1", Kind: KindSolution, Tags: []string{"t"}})
	require.NoError(t, err)
	p2, err := g.AddPattern(ctx, Pattern{Title: "P2", Kind: KindSolution})
	require.NoError(t, err)
	require.NoError(t, g.LinkPatterns(ctx, p1, p2, Extends, 0.5))

	require.NoError(t, g.DeletePattern(ctx, p1))

	_, err = g.GetPattern(ctx, p1)
	assert.Equal(t, memerr.KindNotFound, memerr.Kind(err))

	rels, err := g.Relationships(ctx, p1)
	require.NoError(t, err)
	assert.Empty(t, rels, "edges must not outlive their endpoints")

	tags, err := g.Tags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestReinforceClamps(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	id, err := g.AddPattern(ctx, Pattern{Title: "P", Kind: KindSolution, Confidence: 0.9})
	require.NoError(t, err)

	require.NoError(t, g.Reinforce(ctx, id, 0.5))
	got, err := g.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)

	require.NoError(t, g.Reinforce(ctx, id, -2.0))
	got, err = g.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestTagsIndex(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.AddPattern(ctx, Pattern{Title: "A", Kind: KindSolution, Tags: []string{"go", "sql"}})
	require.NoError(t, err)
	_, err = g.AddPattern(ctx, Pattern{Title: "B", Kind: KindSolution, Tags: []string{"go"}})
	require.NoError(t, err)

	tags, err := g.Tags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, TagCount{Tag: "go", Count: 2}, tags[0])
	assert.Equal(t, TagCount{Tag: "sql", Count: 1}, tags[1])
}

func TestExportImportRoundTrip(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	p1, err := g.AddPattern(ctx, Pattern{
		Title: "P1", Kind: KindWorkflow, Tags: []string{"x"},
		Meta: &Meta{Kind: MetaSnippet, Snippet: &SnippetMeta{Language: "go", Code: "fmt.Println()"}},
	})
	require.NoError(t, err)
	p2, err := g.AddPattern(ctx, Pattern{Title: "P2", Kind: KindSolution})
	require.NoError(t, err)
	require.NoError(t, g.LinkPatterns(ctx, p1, p2, Extends, 0.9))

	snap, err := g.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Patterns, 2)
	require.Len(t, snap.Relationships, 1)

	// Import into a fresh graph and compare.
	other, _ := newTestGraph(t)
	require.NoError(t, other.Import(ctx, snap))

	got, err := other.GetPattern(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, "P1", got.Title)
	assert.Equal(t, []string{"x"}, got.Tags)
	require.NotNil(t, got.Meta)
	assert.Equal(t, MetaSnippet, got.Meta.Kind)

	rels, err := other.Relationships(ctx, p1)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, p2, rels[0].To)
}

func TestMetaValidate(t *testing.T) {
	tests := []struct {
		name    string
		meta    *Meta
		wantErr bool
	}{
		{"nil meta is fine", nil, false},
		{"command", &Meta{Kind: MetaCommand, Command: &CommandMeta{Program: "go"}}, false},
		{"command without program", &Meta{Kind: MetaCommand, Command: &CommandMeta{}}, true},
		{"reference", &Meta{Kind: MetaReference, Reference: &ReferenceMeta{URL: "https://example.com/x"}}, false},
		{"reference with relative url", &Meta{Kind: MetaReference, Reference: &ReferenceMeta{URL: "/docs"}}, true},
		{"snippet", &Meta{Kind: MetaSnippet, Snippet: &SnippetMeta{Language: "go", Code: "x := 1"}}, false},
		{"snippet without code", &Meta{Kind: MetaSnippet, Snippet: &SnippetMeta{Language: "go"}}, true},
		{"kind and payload mismatch", &Meta{Kind: MetaCommand, Snippet: &SnippetMeta{Code: "x"}}, true},
		{"two payloads", &Meta{Kind: MetaCommand, Command: &CommandMeta{Program: "go"}, Snippet: &SnippetMeta{Code: "x"}}, true},
		{"unknown kind", &Meta{Kind: "magic"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseKinds(t *testing.T) {
	k, err := ParsePatternKind("anti_pattern")
	require.NoError(t, err)
	assert.Equal(t, KindAntiPattern, k)
	_, err = ParsePatternKind("nope")
	assert.Error(t, err)

	r, err := ParseRelationKind("conflicts_with")
	require.NoError(t, err)
	assert.Equal(t, ConflictsWith, r)
	_, err = ParseRelationKind("nope")
	assert.Error(t, err)
}
