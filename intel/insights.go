package intel

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/brain/memerr"
)

// insightWindow is the history span insights are computed over.
const insightWindow = 30 * 24 * time.Hour

// GenerateInsights recomputes hotspot and velocity analyses and evaluates
// the rule set against them. The stored insights are fully replaced; stale
// observations never linger past a pass.
func (s *Service) GenerateInsights(ctx context.Context) ([]Insight, error) {
	const op = "intel.GenerateInsights"

	hotspots, err := s.AnalyzeHotspots(ctx, int(insightWindow.Hours()/24))
	if err != nil {
		return nil, err
	}
	velocity, err := s.AnalyzeVelocity(ctx, insightWindow)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var insights []Insight

	for _, h := range hotspots {
		vars := map[string]any{
			"path":      h.Path,
			"churn":     h.Churn,
			"commits":   h.Commits,
			"edits":     h.Edits,
			"stability": h.Stability.String(),
		}
		for i := range s.rules.hotspot {
			rule := &s.rules.hotspot[i]
			matched, err := rule.eval(vars)
			if err != nil {
				return nil, memerr.NewInternalError(op, err)
			}
			if !matched {
				continue
			}
			insights = append(insights, Insight{
				ID:        uuid.NewString(),
				Kind:      rule.Kind,
				Severity:  rule.Severity,
				Message:   rule.render(vars),
				Path:      h.Path,
				CreatedAt: now,
			})
		}
	}

	vars := map[string]any{
		"trend":         velocity.Trend.String(),
		"delta_ratio":   velocity.DeltaRatio,
		"first_half":    velocity.FirstHalf,
		"second_half":   velocity.SecondHalf,
		"total_commits": velocity.FirstHalf + velocity.SecondHalf,
	}
	for i := range s.rules.velocity {
		rule := &s.rules.velocity[i]
		matched, err := rule.eval(vars)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		if !matched {
			continue
		}
		insights = append(insights, Insight{
			ID:        uuid.NewString(),
			Kind:      rule.Kind,
			Severity:  rule.Severity,
			Message:   rule.render(vars),
			CreatedAt: now,
		})
	}

	err = s.store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM insights`); err != nil {
			return memerr.NewInternalError(op, err)
		}
		for _, in := range insights {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO insights (id, kind, severity, message, path, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				in.ID, in.Kind.String(), in.Severity.String(), in.Message,
				in.Path, in.CreatedAt.Format(timeFmt))
			if err != nil {
				return memerr.NewInternalError(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("insights regenerated", "count", len(insights))
	sortInsights(insights)
	return insights, nil
}
