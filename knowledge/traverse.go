package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/zero-day-ai/brain/memerr"
)

// maxTraversalDepth caps RelatedPatterns so a dense graph cannot turn one
// query into a full scan.
const maxTraversalDepth = 5

// LinkPatterns creates a typed edge between two existing patterns.
// Both endpoints must exist and differ; (from, to, kind) must be unique;
// strength must lie in [0,1]. On failure no edge is persisted.
func (g *Graph) LinkPatterns(ctx context.Context, from, to string, kind RelationKind, strength float64) error {
	const op = "knowledge.LinkPatterns"

	if from == "" || to == "" {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: both pattern ids are required", memerr.ErrInvalidInput))
	}
	if from == to {
		return memerr.NewIntegrityError(op,
			fmt.Errorf("self-loop on pattern %s", from))
	}
	if err := kind.Validate(); err != nil {
		return memerr.NewValidationError(op, err)
	}
	if strength < 0 || strength > 1 {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: strength %v outside [0,1]", memerr.ErrInvalidInput, strength))
	}

	now := g.clock.Now().UTC()
	return g.store.Tx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{from, to} {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM patterns WHERE id = ?`, id).Scan(&one)
			if err == sql.ErrNoRows {
				return memerr.NewIntegrityError(op,
					fmt.Errorf("%w: pattern %s", memerr.ErrMissingReference, id))
			}
			if err != nil {
				return memerr.NewInternalError(op, err)
			}
		}

		var one int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM relationships
			WHERE from_id = ? AND to_id = ? AND kind = ?`,
			from, to, kind.String()).Scan(&one)
		if err == nil {
			return memerr.NewValidationError(op,
				fmt.Errorf("%w: edge %s -> %s (%s)", memerr.ErrDuplicate, from, to, kind))
		}
		if err != sql.ErrNoRows {
			return memerr.NewInternalError(op, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (from_id, to_id, kind, strength, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			from, to, kind.String(), strength, now.Format(timeFmt))
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
		return nil
	})
}

// UnlinkPatterns removes one edge. Removing a missing edge is not an error.
func (g *Graph) UnlinkPatterns(ctx context.Context, from, to string, kind RelationKind) error {
	const op = "knowledge.UnlinkPatterns"

	_, err := g.store.DB().ExecContext(ctx, `
		DELETE FROM relationships
		WHERE from_id = ? AND to_id = ? AND kind = ?`,
		from, to, kind.String())
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	return nil
}

// Relationships returns all outgoing edges of a pattern.
func (g *Graph) Relationships(ctx context.Context, id string) ([]Relationship, error) {
	const op = "knowledge.Relationships"

	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT from_id, to_id, kind, strength, created_at
		FROM relationships
		WHERE from_id = ?
		ORDER BY strength DESC, to_id ASC`, id)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return out, nil
}

// RelatedPatterns walks the relationship graph breadth-first from id,
// following outgoing edges of the given kind (or every kind when kind is
// empty), up to maxDepth hops. A visited set guarantees termination on
// cycles. Results are ordered by distance, then edge strength descending,
// then id ascending.
func (g *Graph) RelatedPatterns(ctx context.Context, id string, kind RelationKind, maxDepth int) ([]Related, error) {
	const op = "knowledge.RelatedPatterns"

	if id == "" {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: pattern id is required", memerr.ErrInvalidInput))
	}
	if kind != "" {
		if err := kind.Validate(); err != nil {
			return nil, memerr.NewValidationError(op, err)
		}
	}
	if maxDepth < 1 || maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}

	var one int
	err := g.store.DB().QueryRowContext(ctx,
		`SELECT 1 FROM patterns WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"pattern_id": id})
	}
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	visited := map[string]bool{id: true}
	current := []string{id}

	var found []Related
	for depth := 1; depth <= maxDepth && len(current) > 0; depth++ {
		var next []string
		for _, node := range current {
			edges, err := g.outgoing(ctx, node, kind)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.To] {
					continue
				}
				visited[e.To] = true
				p, err := loadPattern(ctx, g.store.DB(), op, e.To)
				if err != nil {
					return nil, err
				}
				found = append(found, Related{
					Pattern:  *p,
					Distance: depth,
					Strength: e.Strength,
				})
				next = append(next, e.To)
			}
		}
		current = next
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		return a.Pattern.ID < b.Pattern.ID
	})
	return found, nil
}

func (g *Graph) outgoing(ctx context.Context, id string, kind RelationKind) ([]Relationship, error) {
	const op = "knowledge.RelatedPatterns"

	query := `
		SELECT from_id, to_id, kind, strength, created_at
		FROM relationships WHERE from_id = ?`
	args := []any{id}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind.String())
	}
	query += ` ORDER BY strength DESC, to_id ASC`

	rows, err := g.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return out, nil
}

func scanRelationship(row rowScanner) (Relationship, error) {
	var r Relationship
	var created string
	err := row.Scan(&r.From, &r.To, &r.Kind, &r.Strength, &created)
	if err != nil {
		return r, err
	}
	r.CreatedAt, _ = time.Parse(timeFmt, created)
	return r, nil
}
