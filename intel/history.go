package intel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/zero-day-ai/brain/memerr"
)

// FileChange is one file touched by a commit.
type FileChange struct {
	Path    string
	Added   int
	Removed int
}

// Commit is one unit of repository history.
type Commit struct {
	Hash   string
	Author string
	When   time.Time
	Files  []FileChange
}

// History supplies repository history. The production implementation shells
// out to git; tests use a static in-memory history.
type History interface {
	// Log returns commits authored at or after since, newest first.
	Log(ctx context.Context, since time.Time) ([]Commit, error)
}

// commitMarker separates commit headers from numstat lines in log output.
const commitMarker = "--"

// GitHistory reads history from a git working copy via the git CLI.
type GitHistory struct {
	// Dir is the repository root.
	Dir string
}

// Log runs `git log --numstat` and parses the result. Binary files, which
// numstat reports with "-" counts, contribute commits but no line edits.
func (h GitHistory) Log(ctx context.Context, since time.Time) ([]Commit, error) {
	const op = "intel.GitHistory.Log"

	cmd := exec.CommandContext(ctx, "git", "-C", h.Dir,
		"log",
		"--numstat",
		"--no-merges",
		"--since="+since.UTC().Format(time.RFC3339),
		"--pretty=format:"+commitMarker+"%H|%an|%aI")
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, memerr.NewInternalError(op,
				fmt.Errorf("git log: %w: %s", err, bytes.TrimSpace(ee.Stderr)))
		}
		return nil, memerr.NewInternalError(op, fmt.Errorf("git log: %w", err))
	}
	return parseLog(out)
}

// parseLog converts git log --numstat output into commits.
func parseLog(out []byte) ([]Commit, error) {
	const op = "intel.GitHistory.Log"

	var commits []Commit
	var cur *Commit

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, commitMarker):
			parts := strings.SplitN(strings.TrimPrefix(line, commitMarker), "|", 3)
			if len(parts) != 3 {
				return nil, memerr.NewInternalError(op,
					fmt.Errorf("malformed commit header: %q", line))
			}
			when, err := time.Parse(time.RFC3339, parts[2])
			if err != nil {
				return nil, memerr.NewInternalError(op,
					fmt.Errorf("malformed commit date %q: %w", parts[2], err))
			}
			commits = append(commits, Commit{Hash: parts[0], Author: parts[1], When: when})
			cur = &commits[len(commits)-1]
		default:
			if cur == nil {
				continue
			}
			fields := strings.SplitN(line, "\t", 3)
			if len(fields) != 3 {
				continue
			}
			// "-" marks binary files; count the touch, not the lines.
			added, _ := strconv.Atoi(fields[0])
			removed, _ := strconv.Atoi(fields[1])
			cur.Files = append(cur.Files, FileChange{
				Path:    fields[2],
				Added:   added,
				Removed: removed,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return commits, nil
}

// StaticHistory is an in-memory History for tests and offline use.
type StaticHistory struct {
	Commits []Commit
	Err     error
}

// Log filters the static commits by since.
func (h StaticHistory) Log(_ context.Context, since time.Time) ([]Commit, error) {
	if h.Err != nil {
		return nil, h.Err
	}
	var out []Commit
	for _, c := range h.Commits {
		if !c.When.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}
