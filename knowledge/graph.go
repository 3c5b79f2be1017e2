package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
	"github.com/zero-day-ai/brain/schedule"
)

const timeFmt = time.RFC3339Nano

// Schema is the Tier B database schema. Patterns carry an integer rid so the
// external-content FTS5 index and its triggers can address rows while the
// public id stays a UUID. tags_text denormalizes the tag set into the FTS
// index; pattern_tags remains the authoritative tag store.
var Schema = record.Schema{
	Name:    "knowledge",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS patterns (
    rid              INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT NOT NULL UNIQUE,
    title            TEXT NOT NULL,
    body             TEXT NOT NULL,
    kind             TEXT NOT NULL,
    confidence       REAL NOT NULL,
    pinned           INTEGER NOT NULL DEFAULT 0,
    immutable        INTEGER NOT NULL DEFAULT 0,
    source           TEXT NOT NULL DEFAULT '',
    tags_text        TEXT NOT NULL DEFAULT '',
    meta             TEXT,
    created_at       TEXT NOT NULL,
    last_accessed    TEXT NOT NULL,
    access_count     INTEGER NOT NULL DEFAULT 0,
    decay_applied_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_patterns_last_accessed ON patterns(last_accessed);

CREATE TABLE IF NOT EXISTS pattern_tags (
    pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
    tag        TEXT NOT NULL,
    PRIMARY KEY (pattern_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_pattern_tags_tag ON pattern_tags(tag);

CREATE TABLE IF NOT EXISTS relationships (
    from_id    TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
    to_id      TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
    kind       TEXT NOT NULL,
    strength   REAL NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (from_id, to_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
    title,
    body,
    tags_text,
    content='patterns',
    content_rowid='rid'
);

CREATE TRIGGER IF NOT EXISTS patterns_ai AFTER INSERT ON patterns BEGIN
    INSERT INTO patterns_fts(rowid, title, body, tags_text)
    VALUES (new.rid, new.title, new.body, new.tags_text);
END;
CREATE TRIGGER IF NOT EXISTS patterns_ad AFTER DELETE ON patterns BEGIN
    INSERT INTO patterns_fts(patterns_fts, rowid, title, body, tags_text)
    VALUES ('delete', old.rid, old.title, old.body, old.tags_text);
END;
CREATE TRIGGER IF NOT EXISTS patterns_au AFTER UPDATE OF title, body, tags_text ON patterns BEGIN
    INSERT INTO patterns_fts(patterns_fts, rowid, title, body, tags_text)
    VALUES ('delete', old.rid, old.title, old.body, old.tags_text);
    INSERT INTO patterns_fts(rowid, title, body, tags_text)
    VALUES (new.rid, new.title, new.body, new.tags_text);
END;
`,
}

// Graph is the knowledge-graph tier.
type Graph struct {
	store  *record.Store
	clock  schedule.Clock
	logger *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithClock sets the time source. Tests use a manual clock.
func WithClock(clock schedule.Clock) Option {
	return func(g *Graph) { g.clock = clock }
}

// WithLogger sets the logger for decay and maintenance events.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// New builds a Graph on top of an opened record store.
func New(store *record.Store, opts ...Option) (*Graph, error) {
	if store == nil {
		return nil, memerr.NewValidationError("knowledge.New",
			fmt.Errorf("%w: nil store", memerr.ErrInvalidInput))
	}
	g := &Graph{
		store: store,
		clock: schedule.SystemClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// AddPattern inserts a new pattern and returns its id. A zero Confidence is
// treated as unset and stored as 0.5 (see Pattern.Confidence); tags are
// normalized to lowercase and deduplicated.
func (g *Graph) AddPattern(ctx context.Context, p Pattern) (string, error) {
	const op = "knowledge.AddPattern"

	if p.Title == "" {
		return "", memerr.NewValidationError(op,
			fmt.Errorf("%w: pattern title is required", memerr.ErrInvalidInput))
	}
	if err := p.Kind.Validate(); err != nil {
		return "", memerr.NewValidationError(op, err)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return "", memerr.NewValidationError(op,
			fmt.Errorf("%w: confidence %v outside [0,1]", memerr.ErrInvalidInput, p.Confidence))
	}
	if err := p.Meta.Validate(); err != nil {
		return "", memerr.NewValidationError(op, err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Confidence == 0 {
		p.Confidence = 0.5
	}
	p.Tags = normalizeTags(p.Tags)

	now := g.clock.Now().UTC()
	metaJSON, err := encodeMeta(p.Meta)
	if err != nil {
		return "", memerr.NewValidationError(op, err)
	}

	err = g.store.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO patterns
			    (id, title, body, kind, confidence, pinned, immutable, source,
			     tags_text, meta, created_at, last_accessed, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			p.ID, p.Title, p.Body, p.Kind.String(), p.Confidence,
			boolInt(p.Pinned), boolInt(p.Immutable), p.Source,
			strings.Join(p.Tags, " "), metaJSON,
			now.Format(timeFmt), now.Format(timeFmt))
		if err != nil {
			if record.IsConstraint(err) {
				return memerr.NewValidationError(op,
					fmt.Errorf("%w: pattern %s", memerr.ErrDuplicate, p.ID))
			}
			return memerr.NewInternalError(op, err)
		}
		return insertTags(ctx, tx, p.ID, p.Tags)
	})
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// GetPattern loads a pattern by id. Reading counts as use: access_count is
// incremented and last_accessed updated in the same transaction, and the
// returned pattern reflects the updated values.
func (g *Graph) GetPattern(ctx context.Context, id string) (*Pattern, error) {
	const op = "knowledge.GetPattern"

	if id == "" {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: pattern id is required", memerr.ErrInvalidInput))
	}

	now := g.clock.Now().UTC()
	var p *Pattern
	err := g.store.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE patterns
			SET access_count = access_count + 1, last_accessed = ?
			WHERE id = ?`, now.Format(timeFmt), id)
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NewNotFoundError(op, memerr.ErrNotFound).
				WithContext(map[string]any{"pattern_id": id})
		}
		p, err = loadPattern(ctx, tx, op, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePattern applies the non-nil fields of upd to a pattern.
// Confidence cannot be updated this way; use Reinforce or let decay run.
func (g *Graph) UpdatePattern(ctx context.Context, id string, upd PatternUpdate) error {
	const op = "knowledge.UpdatePattern"

	if id == "" {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: pattern id is required", memerr.ErrInvalidInput))
	}
	if upd.Kind != nil {
		if err := upd.Kind.Validate(); err != nil {
			return memerr.NewValidationError(op, err)
		}
	}
	if upd.Title != nil && *upd.Title == "" {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: pattern title cannot be cleared", memerr.ErrInvalidInput))
	}
	if upd.Meta != nil {
		if err := upd.Meta.Validate(); err != nil {
			return memerr.NewValidationError(op, err)
		}
	}

	return g.store.Tx(ctx, func(tx *sql.Tx) error {
		var sets []string
		var args []any
		set := func(col string, v any) {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
		if upd.Title != nil {
			set("title", *upd.Title)
		}
		if upd.Body != nil {
			set("body", *upd.Body)
		}
		if upd.Kind != nil {
			set("kind", upd.Kind.String())
		}
		if upd.Source != nil {
			set("source", *upd.Source)
		}
		if upd.Meta != nil {
			metaJSON, err := encodeMeta(upd.Meta)
			if err != nil {
				return memerr.NewValidationError(op, err)
			}
			set("meta", metaJSON)
		}
		var tags []string
		if upd.Tags != nil {
			tags = normalizeTags(*upd.Tags)
			set("tags_text", strings.Join(tags, " "))
		}
		if len(sets) == 0 {
			return memerr.NewValidationError(op,
				fmt.Errorf("%w: no fields to update", memerr.ErrInvalidInput))
		}

		args = append(args, id)
		res, err := tx.ExecContext(ctx,
			`UPDATE patterns SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NewNotFoundError(op, memerr.ErrNotFound).
				WithContext(map[string]any{"pattern_id": id})
		}

		if upd.Tags != nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM pattern_tags WHERE pattern_id = ?`, id); err != nil {
				return memerr.NewInternalError(op, err)
			}
			if err := insertTags(ctx, tx, id, tags); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePattern removes a pattern and, via cascade, its tags and edges.
func (g *Graph) DeletePattern(ctx context.Context, id string) error {
	const op = "knowledge.DeletePattern"

	res, err := g.store.DB().ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"pattern_id": id})
	}
	return nil
}

// Pin exempts (or re-subjects) a pattern from decay and deletion.
func (g *Graph) Pin(ctx context.Context, id string, pinned bool) error {
	const op = "knowledge.Pin"

	res, err := g.store.DB().ExecContext(ctx,
		`UPDATE patterns SET pinned = ? WHERE id = ?`, boolInt(pinned), id)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"pattern_id": id})
	}
	return nil
}

// Reinforce adjusts a pattern's confidence by delta, clamped to [0,1], and
// resets last_accessed so the pattern does not immediately decay again.
func (g *Graph) Reinforce(ctx context.Context, id string, delta float64) error {
	const op = "knowledge.Reinforce"

	now := g.clock.Now().UTC()
	res, err := g.store.DB().ExecContext(ctx, `
		UPDATE patterns
		SET confidence = MIN(1.0, MAX(0.0, confidence + ?)), last_accessed = ?
		WHERE id = ?`, delta, now.Format(timeFmt), id)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"pattern_id": id})
	}
	return nil
}

// Tags returns the tag index: every tag with the number of patterns
// carrying it, most common first.
func (g *Graph) Tags(ctx context.Context) ([]TagCount, error) {
	const op = "knowledge.Tags"

	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT tag, COUNT(*) FROM pattern_tags
		GROUP BY tag
		ORDER BY COUNT(*) DESC, tag ASC`)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return out, nil
}

// Count returns the number of patterns in the graph.
func (g *Graph) Count(ctx context.Context) (int, error) {
	var n int
	err := g.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n)
	if err != nil {
		return 0, memerr.NewInternalError("knowledge.Count", err)
	}
	return n, nil
}

// Export returns a full snapshot of the graph.
func (g *Graph) Export(ctx context.Context) (*Snapshot, error) {
	const op = "knowledge.Export"

	snap := &Snapshot{ExportedAt: g.clock.Now().UTC()}

	rows, err := g.store.DB().QueryContext(ctx,
		`SELECT `+patternCols+` FROM patterns ORDER BY id`)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			rows.Close()
			return nil, memerr.NewInternalError(op, err)
		}
		snap.Patterns = append(snap.Patterns, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	rows, err = g.store.DB().QueryContext(ctx, `
		SELECT from_id, to_id, kind, strength, created_at
		FROM relationships ORDER BY from_id, to_id, kind`)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	for rows.Next() {
		var r Relationship
		var created string
		if err := rows.Scan(&r.From, &r.To, &r.Kind, &r.Strength, &created); err != nil {
			rows.Close()
			return nil, memerr.NewInternalError(op, err)
		}
		r.CreatedAt, _ = time.Parse(timeFmt, created)
		snap.Relationships = append(snap.Relationships, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return snap, nil
}

// Import loads a snapshot into the graph. Existing patterns with the same id
// are replaced; the whole import is one transaction, so a bad snapshot
// leaves the graph untouched.
func (g *Graph) Import(ctx context.Context, snap *Snapshot) error {
	const op = "knowledge.Import"

	if snap == nil {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: nil snapshot", memerr.ErrInvalidInput))
	}
	for i := range snap.Patterns {
		p := &snap.Patterns[i]
		if p.ID == "" || p.Title == "" {
			return memerr.NewValidationError(op,
				fmt.Errorf("%w: snapshot pattern %d needs id and title", memerr.ErrInvalidInput, i))
		}
		if err := p.Kind.Validate(); err != nil {
			return memerr.NewValidationError(op, err)
		}
		if err := p.Meta.Validate(); err != nil {
			return memerr.NewValidationError(op, err)
		}
	}
	for _, r := range snap.Relationships {
		if err := r.Kind.Validate(); err != nil {
			return memerr.NewValidationError(op, err)
		}
		if r.Strength < 0 || r.Strength > 1 {
			return memerr.NewValidationError(op,
				fmt.Errorf("%w: strength %v outside [0,1]", memerr.ErrInvalidInput, r.Strength))
		}
	}

	return g.store.Tx(ctx, func(tx *sql.Tx) error {
		for _, p := range snap.Patterns {
			tags := normalizeTags(p.Tags)
			metaJSON, err := encodeMeta(p.Meta)
			if err != nil {
				return memerr.NewValidationError(op, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO patterns
				    (id, title, body, kind, confidence, pinned, immutable, source,
				     tags_text, meta, created_at, last_accessed, access_count)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
				    title = excluded.title,
				    body = excluded.body,
				    kind = excluded.kind,
				    confidence = excluded.confidence,
				    pinned = excluded.pinned,
				    immutable = excluded.immutable,
				    source = excluded.source,
				    tags_text = excluded.tags_text,
				    meta = excluded.meta,
				    last_accessed = excluded.last_accessed,
				    access_count = excluded.access_count`,
				p.ID, p.Title, p.Body, p.Kind.String(), p.Confidence,
				boolInt(p.Pinned), boolInt(p.Immutable), p.Source,
				strings.Join(tags, " "), metaJSON,
				p.CreatedAt.UTC().Format(timeFmt), p.LastAccessed.UTC().Format(timeFmt),
				p.AccessCount)
			if err != nil {
				return memerr.NewInternalError(op, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM pattern_tags WHERE pattern_id = ?`, p.ID); err != nil {
				return memerr.NewInternalError(op, err)
			}
			if err := insertTags(ctx, tx, p.ID, tags); err != nil {
				return err
			}
		}

		for _, r := range snap.Relationships {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO relationships (from_id, to_id, kind, strength, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(from_id, to_id, kind) DO UPDATE SET
				    strength = excluded.strength`,
				r.From, r.To, r.Kind.String(), r.Strength,
				r.CreatedAt.UTC().Format(timeFmt))
			if err != nil {
				if record.IsConstraint(err) {
					return memerr.NewIntegrityError(op,
						fmt.Errorf("%w: edge %s -> %s", memerr.ErrMissingReference, r.From, r.To))
				}
				return memerr.NewInternalError(op, err)
			}
		}
		return nil
	})
}

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const patternCols = `id, title, body, kind, confidence, pinned, immutable,
	source, meta, created_at, last_accessed, access_count`

func loadPattern(ctx context.Context, q querier, op, id string) (*Pattern, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+patternCols+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"pattern_id": id})
	}
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT tag FROM pattern_tags WHERE pattern_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		p.Tags = append(p.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*Pattern, error) {
	var p Pattern
	var pinned, immutable int
	var meta sql.NullString
	var created, accessed string

	err := row.Scan(&p.ID, &p.Title, &p.Body, &p.Kind, &p.Confidence,
		&pinned, &immutable, &p.Source, &meta, &created, &accessed, &p.AccessCount)
	if err != nil {
		return nil, err
	}
	p.Pinned = pinned != 0
	p.Immutable = immutable != 0
	p.CreatedAt, _ = time.Parse(timeFmt, created)
	p.LastAccessed, _ = time.Parse(timeFmt, accessed)
	if meta.Valid && meta.String != "" {
		var m Meta
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("decode pattern %s meta: %w", p.ID, err)
		}
		p.Meta = &m
	}
	return &p, nil
}

func insertTags(ctx context.Context, tx *sql.Tx, patternID string, tags []string) error {
	for _, tag := range tags {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO pattern_tags (pattern_id, tag)
			VALUES (?, ?)`, patternID, tag)
		if err != nil {
			return memerr.NewInternalError("knowledge.insertTags", err)
		}
	}
	return nil
}

func encodeMeta(m *Meta) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return string(data), nil
}

// normalizeTags lowercases, trims, and deduplicates while keeping order.
func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
