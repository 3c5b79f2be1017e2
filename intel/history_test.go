package intel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog(t *testing.T) {
	out := []byte(`--abc123|ada|2026-08-14T09:00:00+00:00
10	2	internal/store/db.go
5	0	README.md

--def456|lin|2026-08-13T15:30:00+02:00
-	-	assets/logo.png
3	3	main.go
`)

	commits, err := parseLog(out)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "abc123", commits[0].Hash)
	assert.Equal(t, "ada", commits[0].Author)
	assert.Equal(t, time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC), commits[0].When.UTC())
	require.Len(t, commits[0].Files, 2)
	assert.Equal(t, FileChange{Path: "internal/store/db.go", Added: 10, Removed: 2}, commits[0].Files[0])

	// Binary files count the touch with zero line edits.
	require.Len(t, commits[1].Files, 2)
	assert.Equal(t, FileChange{Path: "assets/logo.png", Added: 0, Removed: 0}, commits[1].Files[0])
	assert.Equal(t, FileChange{Path: "main.go", Added: 3, Removed: 3}, commits[1].Files[1])
}

func TestParseLogMalformedHeader(t *testing.T) {
	_, err := parseLog([]byte("--justahash\n"))
	assert.Error(t, err)
}

func TestParseLogEmpty(t *testing.T) {
	commits, err := parseLog(nil)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestStaticHistoryFiltersBySince(t *testing.T) {
	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	h := StaticHistory{Commits: []Commit{
		commitAt(base, "ada"),
		commitAt(base.AddDate(0, 0, 5), "lin"),
	}}

	got, err := h.Log(t.Context(), base.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lin", got[0].Author)
}
