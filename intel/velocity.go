package intel

import (
	"context"
	"fmt"
	"time"

	"github.com/zero-day-ai/brain/memerr"
)

// A trend is only declared when the halves differ by at least
// velocityMinRatio relatively and velocityMinCommits absolutely, so small
// windows do not flap between labels.
const (
	velocityMinRatio   = 0.2
	velocityMinCommits = 5
)

// AnalyzeVelocity splits the window's snapshots into halves by date and
// compares total commits. Below the minimum deltas the trend is stable.
func (s *Service) AnalyzeVelocity(ctx context.Context, window time.Duration) (*VelocityReport, error) {
	const op = "intel.AnalyzeVelocity"

	if window <= 0 {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: window must be positive", memerr.ErrInvalidInput))
	}

	snaps, err := s.Snapshots(ctx, window)
	if err != nil {
		return nil, err
	}

	mid := s.clock.Now().UTC().Add(-window / 2).Format(dayFmt)
	report := &VelocityReport{Trend: Steady}
	for _, snap := range snaps {
		if snap.Date < mid {
			report.FirstHalf += snap.Commits
		} else {
			report.SecondHalf += snap.Commits
		}
	}

	delta := report.SecondHalf - report.FirstHalf
	if report.FirstHalf > 0 {
		report.DeltaRatio = float64(delta) / float64(report.FirstHalf)
	} else if report.SecondHalf > 0 {
		report.DeltaRatio = 1
	}

	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if abs >= velocityMinCommits {
		switch {
		case report.DeltaRatio >= velocityMinRatio:
			report.Trend = Increasing
		case report.DeltaRatio <= -velocityMinRatio:
			report.Trend = Decreasing
		}
	}
	return report, nil
}
