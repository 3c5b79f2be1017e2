package intel

import (
	"context"
	"fmt"
	"sort"

	"github.com/zero-day-ai/brain/memerr"
)

// Churn thresholds. A file at or below churnLow lines per touching commit
// is stable; at or above churnHigh it is unstable. The mapping is monotone:
// more churn never yields a calmer label.
const (
	churnLow  = 50.0
	churnHigh = 200.0
)

// stabilityFor maps churn to its label.
func stabilityFor(churn float64) Stability {
	switch {
	case churn <= churnLow:
		return Stable
	case churn >= churnHigh:
		return Unstable
	default:
		return Moderate
	}
}

// AnalyzeHotspots computes per-file churn over the window, highest churn
// first. Churn is edited lines divided by commits touching the file, so a
// file rewritten in two commits outranks one nudged in fifty.
func (s *Service) AnalyzeHotspots(ctx context.Context, window int) ([]FileHotspot, error) {
	const op = "intel.AnalyzeHotspots"

	if window <= 0 {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: window must be positive", memerr.ErrInvalidInput))
	}

	now := s.clock.Now().UTC()
	commits, err := s.history.Log(ctx, now.AddDate(0, 0, -window))
	if err != nil {
		return nil, err
	}

	type acc struct {
		commits int
		edits   int
	}
	files := make(map[string]*acc)
	for _, c := range commits {
		for _, f := range c.Files {
			a := files[f.Path]
			if a == nil {
				a = &acc{}
				files[f.Path] = a
			}
			a.commits++
			a.edits += f.Added + f.Removed
		}
	}

	out := make([]FileHotspot, 0, len(files))
	for path, a := range files {
		churn := float64(a.edits) / float64(a.commits)
		out = append(out, FileHotspot{
			Path:      path,
			Commits:   a.commits,
			Edits:     a.edits,
			Churn:     churn,
			Stability: stabilityFor(churn),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Churn != out[j].Churn {
			return out[i].Churn > out[j].Churn
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}
