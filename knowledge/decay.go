package knowledge

import (
	"context"
	"database/sql"
	"time"

	"github.com/zero-day-ai/brain/memerr"
)

// Decay rule constants. A pattern unused for sixtyDays loses minorStep; one
// unused for ninetyDays loses majorStep instead (the rules supersede, they
// do not stack). Past ageLimit, or below deletionFloor after decay, the
// pattern is deleted. Pinned and immutable patterns are exempt from all of
// this.
const (
	sixtyDays  = 60 * 24 * time.Hour
	ninetyDays = 90 * 24 * time.Hour
	ageLimit   = 120 * 24 * time.Hour

	minorStep     = 0.10
	majorStep     = 0.25
	deletionFloor = 0.30
)

// decayBatchSize bounds one transaction of the decay pass so maintenance
// never holds the write lock for long.
const decayBatchSize = 200

// dayFmt stamps decay application at day granularity, which is the
// idempotence window: a second pass on the same day is a no-op.
const dayFmt = "2006-01-02"

// ApplyDecay runs one confidence-decay pass as of now (the graph's clock
// when now is zero). Each pattern is evaluated at most once per day, so
// re-running after an interruption never double-penalizes. Work proceeds in
// bounded batches, one transaction each.
func (g *Graph) ApplyDecay(ctx context.Context, now time.Time) (DecayReport, error) {
	const op = "knowledge.ApplyDecay"

	if now.IsZero() {
		now = g.clock.Now()
	}
	now = now.UTC()
	today := now.Format(dayFmt)
	cutoff := now.Add(-sixtyDays).Format(timeFmt)

	var report DecayReport
	for {
		var batched int
		err := g.store.Tx(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, `
				SELECT id, confidence, last_accessed
				FROM patterns
				WHERE pinned = 0 AND immutable = 0
				  AND decay_applied_at != ?
				  AND last_accessed <= ?
				ORDER BY last_accessed ASC
				LIMIT ?`, today, cutoff, decayBatchSize)
			if err != nil {
				return memerr.NewInternalError(op, err)
			}

			type candidate struct {
				id         string
				confidence float64
				accessed   time.Time
			}
			var cands []candidate
			for rows.Next() {
				var c candidate
				var accessed string
				if err := rows.Scan(&c.id, &c.confidence, &accessed); err != nil {
					rows.Close()
					return memerr.NewInternalError(op, err)
				}
				c.accessed, _ = time.Parse(timeFmt, accessed)
				cands = append(cands, c)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return memerr.NewInternalError(op, err)
			}
			batched = len(cands)

			for _, c := range cands {
				unused := now.Sub(c.accessed)

				conf := c.confidence
				switch {
				case unused >= ninetyDays:
					conf -= majorStep
				case unused >= sixtyDays:
					conf -= minorStep
				}
				if conf < 0 {
					conf = 0
				}

				if unused >= ageLimit || conf < deletionFloor {
					if _, err := tx.ExecContext(ctx,
						`DELETE FROM patterns WHERE id = ?`, c.id); err != nil {
						return memerr.NewInternalError(op, err)
					}
					report.Deleted++
					continue
				}

				_, err := tx.ExecContext(ctx, `
					UPDATE patterns
					SET confidence = ?, decay_applied_at = ?
					WHERE id = ?`, conf, today, c.id)
				if err != nil {
					return memerr.NewInternalError(op, err)
				}
				report.Decayed++
			}
			return nil
		})
		if err != nil {
			return report, err
		}
		if batched < decayBatchSize {
			break
		}
	}

	if report.Decayed > 0 || report.Deleted > 0 {
		g.logger.Info("confidence decay pass complete",
			"decayed", report.Decayed,
			"deleted", report.Deleted)
	}
	return report, nil
}
