package working

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/brain/memerr"
	"github.com/zero-day-ai/brain/record"
	"github.com/zero-day-ai/brain/schedule"
)

// DefaultRetentionCap is the number of conversations kept when no cap is
// configured. Once exceeded, the oldest ended, unpinned conversation is
// evicted on each new start.
const DefaultRetentionCap = 20

const timeFmt = time.RFC3339Nano

// comodSep joins the two paths of a co-modification pair into a stable key.
const comodSep = "\x1f"

// Schema is the Tier A database schema. Turn text is indexed through an
// external-content FTS5 table kept in sync by triggers, so the text is
// stored once.
var Schema = record.Schema{
	Name:    "working",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    intent     TEXT NOT NULL DEFAULT '',
    pinned     INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    ended_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
CREATE INDEX IF NOT EXISTS idx_conversations_started ON conversations(started_at, id);

CREATE TABLE IF NOT EXISTS turns (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    seq             INTEGER NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    at              TEXT NOT NULL,
    UNIQUE (conversation_id, seq)
);

CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
    content,
    content='turns',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS turns_ai AFTER INSERT ON turns BEGIN
    INSERT INTO turns_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS turns_ad AFTER DELETE ON turns BEGIN
    INSERT INTO turns_fts(turns_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;
CREATE TRIGGER IF NOT EXISTS turns_au AFTER UPDATE ON turns BEGIN
    INSERT INTO turns_fts(turns_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO turns_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TABLE IF NOT EXISTS entities (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    name        TEXT NOT NULL,
    first_seen  TEXT NOT NULL,
    last_seen   TEXT NOT NULL,
    occurrences INTEGER NOT NULL DEFAULT 0,
    UNIQUE (kind, name)
);

CREATE TABLE IF NOT EXISTS conversation_entities (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    entity_id       TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (conversation_id, entity_id)
);

CREATE TABLE IF NOT EXISTS conversation_files (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    path            TEXT NOT NULL,
    PRIMARY KEY (conversation_id, path)
);

CREATE TABLE IF NOT EXISTS comod (
    files      TEXT PRIMARY KEY,
    frequency  INTEGER NOT NULL,
    confidence REAL NOT NULL,
    updated_at TEXT NOT NULL
);
`,
}

// Memory is the working-memory tier: a capped FIFO of recent conversations
// with extracted entities, file mentions, and co-modification tracking.
type Memory struct {
	store   *record.Store
	clock   schedule.Clock
	extract Extractor
	cap     int
	logger  *slog.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock sets the time source. Tests use a manual clock.
func WithClock(clock schedule.Clock) Option {
	return func(m *Memory) { m.clock = clock }
}

// WithExtractor replaces the default entity extractor.
func WithExtractor(fn Extractor) Option {
	return func(m *Memory) { m.extract = fn }
}

// WithRetentionCap sets the maximum number of retained conversations.
func WithRetentionCap(n int) Option {
	return func(m *Memory) { m.cap = n }
}

// WithLogger sets the logger for extraction failures and eviction events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) { m.logger = logger }
}

// New builds a Memory on top of an opened record store.
func New(store *record.Store, opts ...Option) (*Memory, error) {
	if store == nil {
		return nil, memerr.NewValidationError("working.New",
			fmt.Errorf("%w: nil store", memerr.ErrInvalidInput))
	}
	m := &Memory{
		store:   store,
		clock:   schedule.SystemClock{},
		extract: DefaultExtractor,
		cap:     DefaultRetentionCap,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.cap < 1 {
		return nil, memerr.NewValidationError("working.New",
			fmt.Errorf("%w: retention cap must be >= 1, got %d", memerr.ErrInvalidInput, m.cap))
	}
	return m, nil
}

// StartConversation opens a new conversation for sessionID. If the retention
// cap is now exceeded, the oldest ended, unpinned conversation is evicted in
// the same transaction; active conversations are never candidates. Ties on
// start time evict the lowest conversation id.
func (m *Memory) StartConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	const op = "working.StartConversation"

	if sessionID == "" {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: session id is required", memerr.ErrInvalidInput))
	}

	now := m.clock.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: now,
		UpdatedAt: now,
	}

	err := m.store.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, session_id, started_at, updated_at)
			VALUES (?, ?, ?, ?)`,
			conv.ID, sessionID, now.Format(timeFmt), now.Format(timeFmt))
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
		return m.enforceCap(ctx, tx, now)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// enforceCap evicts the single oldest ended, unpinned conversation when the
// count is over the retention cap, then drops entities and co-modification
// rows that no surviving conversation references. At most one conversation
// goes per insert, even when a backlog built up while everything over the
// cap was still active.
func (m *Memory) enforceCap(ctx context.Context, tx *sql.Tx, now time.Time) error {
	const op = "working.StartConversation"

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return memerr.NewInternalError(op, err)
	}
	if total <= m.cap {
		return nil
	}

	var victim string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM conversations
		WHERE ended_at IS NOT NULL AND pinned = 0
		ORDER BY started_at ASC, id ASC
		LIMIT 1`).Scan(&victim)
	if errors.Is(err, sql.ErrNoRows) {
		// Everything over the cap is active or pinned; nothing to evict.
		return nil
	}
	if err != nil {
		return memerr.NewInternalError(op, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, victim); err != nil {
		return memerr.NewInternalError(op, err)
	}

	// Entities survive only while some conversation still references them.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM entities
		WHERE id NOT IN (SELECT entity_id FROM conversation_entities)`)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}

	if err := rebuildCoMod(ctx, tx, now); err != nil {
		return memerr.NewInternalError(op, err)
	}

	m.logger.Debug("working memory evicted conversation",
		"conversation_id", victim,
		"cap", m.cap)
	return nil
}

// AppendTurn appends a turn to an open conversation. Entity extraction runs
// first; an extraction failure is logged and the turn is persisted without
// entities. Appending to an ended conversation is a validation error.
func (m *Memory) AppendTurn(ctx context.Context, conversationID string, turn Turn) error {
	const op = "working.AppendTurn"

	if conversationID == "" {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: conversation id is required", memerr.ErrInvalidInput))
	}
	if err := turn.Role.Validate(); err != nil {
		return memerr.NewValidationError(op, err)
	}
	if turn.Content == "" {
		return memerr.NewValidationError(op,
			fmt.Errorf("%w: turn content is required", memerr.ErrInvalidInput))
	}

	now := m.clock.Now().UTC()
	if turn.At.IsZero() {
		turn.At = now
	}

	ex, err := m.extract(turn.Content)
	if err == nil {
		err = validateExtraction(ex)
	}
	if err != nil {
		m.logger.Warn("entity extraction failed, storing turn without entities",
			"conversation_id", conversationID,
			"error", err)
		ex = Extraction{}
	}

	return m.store.Tx(ctx, func(tx *sql.Tx) error {
		var ended sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT ended_at FROM conversations WHERE id = ?`, conversationID,
		).Scan(&ended)
		if err == sql.ErrNoRows {
			return memerr.NewNotFoundError(op, memerr.ErrNotFound).
				WithContext(map[string]any{"conversation_id": conversationID})
		}
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
		if ended.Valid {
			return memerr.NewValidationError(op,
				fmt.Errorf("%w: conversation %s has ended", memerr.ErrInvalidInput, conversationID))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (conversation_id, seq, role, content, at)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?), ?, ?, ?)`,
			conversationID, conversationID, turn.Role.String(), turn.Content, turn.At.UTC().Format(timeFmt))
		if err != nil {
			return memerr.NewInternalError(op, err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			now.Format(timeFmt), conversationID)
		if err != nil {
			return memerr.NewInternalError(op, err)
		}

		if err := m.applyExtraction(ctx, tx, conversationID, ex, now); err != nil {
			return err
		}
		return nil
	})
}

// applyExtraction upserts extracted entities and file mentions and refreshes
// the co-modification table when new files appeared.
func (m *Memory) applyExtraction(ctx context.Context, tx *sql.Tx, conversationID string, ex Extraction, now time.Time) error {
	const op = "working.AppendTurn"

	for _, e := range ex.Entities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, kind, name, first_seen, last_seen, occurrences)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT(kind, name) DO UPDATE SET
			    last_seen = excluded.last_seen,
			    occurrences = occurrences + 1`,
			uuid.NewString(), e.Kind.String(), e.Name, now.Format(timeFmt), now.Format(timeFmt))
		if err != nil {
			return memerr.NewInternalError(op, err)
		}

		var entityID string
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM entities WHERE kind = ? AND name = ?`,
			e.Kind.String(), e.Name,
		).Scan(&entityID)
		if err != nil {
			return memerr.NewInternalError(op, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_entities (conversation_id, entity_id)
			VALUES (?, ?)`, conversationID, entityID)
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
	}

	filesAdded := false
	for _, path := range ex.Files {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_files (conversation_id, path)
			VALUES (?, ?)`, conversationID, path)
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			filesAdded = true
		}
	}
	if filesAdded {
		if err := rebuildCoMod(ctx, tx, now); err != nil {
			return memerr.NewInternalError(op, err)
		}
	}
	return nil
}

// rebuildCoMod recomputes file co-modification pairs from the surviving
// conversations. Frequency is the number of conversations mentioning both
// files; confidence grows monotonically with frequency and stays below 1.
func rebuildCoMod(ctx context.Context, tx *sql.Tx, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM comod`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO comod (files, frequency, confidence, updated_at)
		SELECT a.path || char(31) || b.path,
		       COUNT(*),
		       CAST(COUNT(*) AS REAL) / (COUNT(*) + 2.0),
		       ?
		FROM conversation_files a
		JOIN conversation_files b
		  ON a.conversation_id = b.conversation_id AND a.path < b.path
		GROUP BY a.path, b.path`,
		now.Format(timeFmt))
	return err
}

// Get loads one conversation with its turns, entities, and files.
func (m *Memory) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	const op = "working.Get"

	conv, err := m.loadConversation(ctx, op, conversationID)
	if err != nil {
		return nil, err
	}
	if err := m.hydrate(ctx, op, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetRecent returns up to limit conversations ordered by most recent
// activity, each with turns, entities, and files loaded.
func (m *Memory) GetRecent(ctx context.Context, limit int) ([]Conversation, error) {
	return m.recent(ctx, "working.GetRecent", "", limit)
}

// GetRecentForSession is GetRecent restricted to one session.
func (m *Memory) GetRecentForSession(ctx context.Context, sessionID string, limit int) ([]Conversation, error) {
	const op = "working.GetRecentForSession"

	if sessionID == "" {
		return nil, memerr.NewValidationError(op,
			fmt.Errorf("%w: session id is required", memerr.ErrInvalidInput))
	}
	return m.recent(ctx, op, sessionID, limit)
}

func (m *Memory) recent(ctx context.Context, op, sessionID string, limit int) ([]Conversation, error) {
	if limit < 1 {
		limit = DefaultRetentionCap
	}

	query := `
		SELECT id, session_id, intent, pinned, started_at, updated_at, ended_at
		FROM conversations`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += `
		ORDER BY updated_at DESC, id ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := m.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	for i := range out {
		if err := m.hydrate(ctx, op, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Search ranks recent conversations against query using full-text match
// over turn content. The score is the negated bm25 rank, so higher is
// better. Each conversation appears once, at its best-scoring turn.
func (m *Memory) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	const op = "working.Search"

	match := record.BuildMatch(query)
	if match == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}

	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT t.conversation_id,
		       snippet(turns_fts, 0, '', '', '…', 12),
		       bm25(turns_fts)
		FROM turns_fts
		JOIN turns t ON t.id = turns_fts.rowid
		WHERE turns_fts MATCH ?
		ORDER BY bm25(turns_fts)`, match)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	type hit struct {
		score   float64
		excerpt string
	}
	best := make(map[string]hit)
	var order []string
	for rows.Next() {
		var convID, excerpt string
		var rank float64
		if err := rows.Scan(&convID, &excerpt, &rank); err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		score := -rank
		if prev, ok := best[convID]; !ok || score > prev.score {
			if !ok {
				order = append(order, convID)
			}
			best[convID] = hit{score: score, excerpt: excerpt}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := best[order[i]], best[order[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return order[i] < order[j]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	matches := make([]Match, 0, len(order))
	for _, convID := range order {
		conv, err := m.loadConversation(ctx, op, convID)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			Conversation: *conv,
			Score:        best[convID].score,
			Excerpt:      best[convID].excerpt,
		})
	}
	return matches, nil
}

// SetPinned marks or unmarks a conversation as pinned. Pinned conversations
// are never evicted by the retention cap.
func (m *Memory) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	const op = "working.SetPinned"
	return m.updateConversation(ctx, op, conversationID,
		`UPDATE conversations SET pinned = ?, updated_at = ? WHERE id = ?`,
		boolInt(pinned), m.clock.Now().UTC().Format(timeFmt), conversationID)
}

// SetIntent records the inferred intent of a conversation.
func (m *Memory) SetIntent(ctx context.Context, conversationID, intent string) error {
	const op = "working.SetIntent"
	return m.updateConversation(ctx, op, conversationID,
		`UPDATE conversations SET intent = ?, updated_at = ? WHERE id = ?`,
		intent, m.clock.Now().UTC().Format(timeFmt), conversationID)
}

// EndConversation closes a conversation, making it a candidate for eviction
// unless pinned. Ending an already-ended conversation is a no-op.
func (m *Memory) EndConversation(ctx context.Context, conversationID string) error {
	const op = "working.EndConversation"

	now := m.clock.Now().UTC().Format(timeFmt)
	res, err := m.store.DB().ExecContext(ctx, `
		UPDATE conversations SET ended_at = ?, updated_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		now, now, conversationID)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already ended or missing; only the latter is an error.
		var one int
		err := m.store.DB().QueryRowContext(ctx,
			`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
		if err == sql.ErrNoRows {
			return memerr.NewNotFoundError(op, memerr.ErrNotFound).
				WithContext(map[string]any{"conversation_id": conversationID})
		}
		if err != nil {
			return memerr.NewInternalError(op, err)
		}
	}
	return nil
}

// EndStale closes conversations with no activity since the cutoff and
// returns how many were closed. Pinning does not keep a conversation open;
// it only protects it from eviction afterwards.
func (m *Memory) EndStale(ctx context.Context, idle time.Duration) (int, error) {
	const op = "working.EndStale"

	if idle <= 0 {
		return 0, memerr.NewValidationError(op,
			fmt.Errorf("%w: idle duration must be positive", memerr.ErrInvalidInput))
	}
	now := m.clock.Now().UTC()
	cutoff := now.Add(-idle).Format(timeFmt)

	res, err := m.store.DB().ExecContext(ctx, `
		UPDATE conversations SET ended_at = ?
		WHERE ended_at IS NULL AND updated_at < ?`,
		now.Format(timeFmt), cutoff)
	if err != nil {
		return 0, memerr.NewInternalError(op, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CoModified returns file pairs changed together in at least minFrequency
// conversations, most frequent first.
func (m *Memory) CoModified(ctx context.Context, minFrequency int) ([]CoModification, error) {
	const op = "working.CoModified"

	if minFrequency < 1 {
		minFrequency = 2
	}
	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT files, frequency, confidence, updated_at
		FROM comod
		WHERE frequency >= ?
		ORDER BY frequency DESC, files ASC`, minFrequency)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []CoModification
	for rows.Next() {
		var filesKey, updated string
		var cm CoModification
		if err := rows.Scan(&filesKey, &cm.Frequency, &cm.Confidence, &updated); err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		cm.Files = splitComodKey(filesKey)
		cm.UpdatedAt, _ = time.Parse(timeFmt, updated)
		out = append(out, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return out, nil
}

// Entities returns the most-mentioned entities across retained conversations.
func (m *Memory) Entities(ctx context.Context, limit int) ([]Entity, error) {
	const op = "working.Entities"

	if limit < 1 {
		limit = 50
	}
	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT id, kind, name, first_seen, last_seen, occurrences
		FROM entities
		ORDER BY occurrences DESC, last_seen DESC, name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, memerr.NewInternalError(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return out, nil
}

// Count returns the number of retained conversations.
func (m *Memory) Count(ctx context.Context) (int, error) {
	var n int
	err := m.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	if err != nil {
		return 0, memerr.NewInternalError("working.Count", err)
	}
	return n, nil
}

func (m *Memory) updateConversation(ctx context.Context, op, conversationID, query string, args ...any) error {
	res, err := m.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"conversation_id": conversationID})
	}
	return nil
}

func (m *Memory) loadConversation(ctx context.Context, op, conversationID string) (*Conversation, error) {
	row := m.store.DB().QueryRowContext(ctx, `
		SELECT id, session_id, intent, pinned, started_at, updated_at, ended_at
		FROM conversations WHERE id = ?`, conversationID)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"conversation_id": conversationID})
	}
	if err != nil {
		return nil, memerr.NewInternalError(op, err)
	}
	return conv, nil
}

// hydrate fills a conversation's turns, entities, and files.
func (m *Memory) hydrate(ctx context.Context, op string, conv *Conversation) error {
	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT role, content, at FROM turns
		WHERE conversation_id = ? ORDER BY seq ASC`, conv.ID)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	for rows.Next() {
		var role, content, at string
		if err := rows.Scan(&role, &content, &at); err != nil {
			rows.Close()
			return memerr.NewInternalError(op, err)
		}
		t := Turn{Role: Role(role), Content: content}
		t.At, _ = time.Parse(timeFmt, at)
		conv.Turns = append(conv.Turns, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return memerr.NewInternalError(op, err)
	}

	rows, err = m.store.DB().QueryContext(ctx, `
		SELECT e.id, e.kind, e.name, e.first_seen, e.last_seen, e.occurrences
		FROM entities e
		JOIN conversation_entities ce ON ce.entity_id = e.id
		WHERE ce.conversation_id = ?
		ORDER BY e.name ASC`, conv.ID)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return memerr.NewInternalError(op, err)
		}
		conv.Entities = append(conv.Entities, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return memerr.NewInternalError(op, err)
	}

	rows, err = m.store.DB().QueryContext(ctx, `
		SELECT path FROM conversation_files
		WHERE conversation_id = ? ORDER BY path ASC`, conv.ID)
	if err != nil {
		return memerr.NewInternalError(op, err)
	}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return memerr.NewInternalError(op, err)
		}
		conv.Files = append(conv.Files, path)
	}
	rows.Close()
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var pinned int
	var started, updated string
	var ended sql.NullString

	err := row.Scan(&conv.ID, &conv.SessionID, &conv.Intent, &pinned, &started, &updated, &ended)
	if err != nil {
		return nil, err
	}
	conv.Pinned = pinned != 0
	conv.StartedAt, _ = time.Parse(timeFmt, started)
	conv.UpdatedAt, _ = time.Parse(timeFmt, updated)
	if ended.Valid {
		conv.EndedAt, _ = time.Parse(timeFmt, ended.String)
	}
	return &conv, nil
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var first, last string
	err := row.Scan(&e.ID, &e.Kind, &e.Name, &first, &last, &e.Occurrences)
	if err != nil {
		return e, err
	}
	e.FirstSeen, _ = time.Parse(timeFmt, first)
	e.LastSeen, _ = time.Parse(timeFmt, last)
	return e, nil
}

func splitComodKey(key string) []string {
	return strings.Split(key, comodSep)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
