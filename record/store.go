package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zero-day-ai/brain/memerr"
)

// pragmas tunes SQLite for a single-process, multi-goroutine workload.
// WAL lets readers see a consistent snapshot while a writer is active.
const pragmas = "?_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(ON)" +
	"&_pragma=cache_size(-64000)"

// bootstrapDDL holds the store's own tables, created before the tier schema.
const bootstrapDDL = `
CREATE TABLE IF NOT EXISTS schema_info (
    name       TEXT PRIMARY KEY,
    version    INTEGER NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
    tbl        TEXT NOT NULL,
    key        TEXT NOT NULL,
    record     BLOB NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (tbl, key)
);
`

// Schema describes a tier's database schema.
type Schema struct {
	// Name identifies the schema (e.g., "working", "knowledge", "intel").
	Name string

	// Version is the current schema version. Opening a store whose file
	// carries a newer version fails; an older version is upgraded by
	// re-running the DDL, which must be written with IF NOT EXISTS guards.
	Version int

	// DDL contains the CREATE statements for the tier's tables.
	DDL string
}

// Store is an embedded transactional record store backed by a single
// SQLite file.
type Store struct {
	db         *sql.DB
	path       string
	schema     Schema
	backupPath string
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery and maintenance events.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBackupPath sets the file used by Backup and consulted during
// corruption recovery. If not set, recovery falls back to an empty schema.
func WithBackupPath(path string) Option {
	return func(s *Store) {
		s.backupPath = path
	}
}

// Open opens (or creates) the store file at path and applies the schema.
// If the file is unreadable, Open performs tier-local recovery and retries
// once; it never returns a corruption error for a recoverable file.
func Open(path string, schema Schema, opts ...Option) (*Store, error) {
	const op = "record.Open"

	if path == "" {
		return nil, memerr.NewValidationError(op, fmt.Errorf("%w: empty store path", memerr.ErrInvalidInput))
	}
	if schema.Name == "" || schema.Version < 1 {
		return nil, memerr.NewValidationError(op, fmt.Errorf("%w: schema needs a name and a version >= 1", memerr.ErrInvalidInput))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, memerr.NewInternalError(op, fmt.Errorf("create store dir: %w", err))
	}

	s := &Store{path: path, schema: schema}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.open(); err != nil {
		if !IsCorrupt(err) {
			return nil, err
		}
		s.logger.Warn("store file unreadable, starting recovery",
			"schema", schema.Name,
			"path", path,
			"error", err)
		if err := s.recoverLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// open connects, verifies the file, and applies the schema.
func (s *Store) open() error {
	const op = "record.Open"

	db, err := sql.Open("sqlite3", "file:"+s.path+pragmas)
	if err != nil {
		return memerr.NewInternalError(op, fmt.Errorf("open %s: %w", s.path, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classify(op, fmt.Errorf("ping %s: %w", s.path, err))
	}

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check: %s", check)
		}
		return memerr.NewCorruptionError(op, fmt.Errorf("%w: %v", memerr.ErrCorrupt, err))
	}

	if _, err := db.ExecContext(ctx, bootstrapDDL); err != nil {
		db.Close()
		return classify(op, fmt.Errorf("bootstrap schema: %w", err))
	}

	if err := applySchema(ctx, db, s.schema); err != nil {
		db.Close()
		return err
	}

	s.db = db
	return nil
}

// applySchema creates the tier tables and records the schema version.
func applySchema(ctx context.Context, db *sql.DB, schema Schema) error {
	const op = "record.Open"

	var stored int
	err := db.QueryRowContext(ctx,
		`SELECT version FROM schema_info WHERE name = ?`, schema.Name,
	).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = 0
	case err != nil:
		return classify(op, fmt.Errorf("read schema version: %w", err))
	}

	if stored > schema.Version {
		return memerr.NewValidationError(op, fmt.Errorf(
			"%w: store file has schema version %d, this build supports %d",
			memerr.ErrInvalidInput, stored, schema.Version))
	}

	if _, err := db.ExecContext(ctx, schema.DDL); err != nil {
		return classify(op, fmt.Errorf("apply %s schema: %w", schema.Name, err))
	}

	if stored != schema.Version {
		_, err = db.ExecContext(ctx, `
			INSERT INTO schema_info (name, version) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET version = excluded.version, applied_at = datetime('now')`,
			schema.Name, schema.Version)
		if err != nil {
			return classify(op, fmt.Errorf("record schema version: %w", err))
		}
	}
	return nil
}

// DB exposes the underlying connection pool for tier-specific queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Version returns the schema version recorded in the store file.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_info WHERE name = ?`, s.schema.Name,
	).Scan(&v)
	if err != nil {
		return 0, classify("record.Version", err)
	}
	return v, nil
}

// Tx runs fn inside a transaction. If fn returns an error the transaction
// is rolled back and none of its writes become visible to readers.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const op = "record.Tx"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Verify checks the store file's integrity.
func (s *Store) Verify(ctx context.Context) error {
	const op = "record.Verify"

	var check string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&check); err != nil {
		return classify(op, err)
	}
	if check != "ok" {
		return memerr.NewCorruptionError(op, fmt.Errorf("%w: integrity_check: %s", memerr.ErrCorrupt, check))
	}
	return nil
}

// Backup writes a compacted copy of the store to the configured backup path.
// The copy is taken with VACUUM INTO, so it is a consistent snapshot even
// while writers are active.
func (s *Store) Backup(ctx context.Context) error {
	const op = "record.Backup"

	if s.backupPath == "" {
		return memerr.NewValidationError(op, fmt.Errorf("%w: no backup path configured", memerr.ErrInvalidInput))
	}
	if err := os.MkdirAll(filepath.Dir(s.backupPath), 0o755); err != nil {
		return memerr.NewInternalError(op, fmt.Errorf("create backup dir: %w", err))
	}

	// VACUUM INTO refuses to overwrite; replace atomically via a temp file.
	tmp := s.backupPath + ".tmp"
	os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		os.Remove(tmp)
		return classify(op, fmt.Errorf("vacuum into %s: %w", tmp, err))
	}
	if err := os.Rename(tmp, s.backupPath); err != nil {
		os.Remove(tmp)
		return memerr.NewInternalError(op, fmt.Errorf("replace backup: %w", err))
	}

	s.logger.Debug("store backup written",
		"schema", s.schema.Name,
		"path", s.backupPath)
	return nil
}

// Recover reinitializes the store after a corruption error. The bad file is
// moved aside, then the last good backup is restored, or an empty schema is
// created when no backup exists. The event is logged; recovery never panics
// the process.
func (s *Store) Recover(ctx context.Context) error {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return s.recoverLocked()
}

func (s *Store) recoverLocked() error {
	const op = "record.Recover"

	if _, err := os.Stat(s.path); err == nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if err := os.Rename(s.path, aside); err != nil {
			return memerr.NewInternalError(op, fmt.Errorf("move corrupt file aside: %w", err))
		}
		// WAL sidecars belong to the bad file.
		os.Remove(s.path + "-wal")
		os.Remove(s.path + "-shm")
		s.logger.Warn("corrupt store file moved aside",
			"schema", s.schema.Name,
			"moved_to", aside)
	}

	restored := false
	if s.backupPath != "" {
		if err := copyFile(s.backupPath, s.path); err == nil {
			restored = true
		} else if !os.IsNotExist(err) {
			s.logger.Warn("backup restore failed, reinitializing empty",
				"schema", s.schema.Name,
				"error", err)
		}
	}

	if err := s.open(); err != nil {
		// A corrupt backup gets one more chance as an empty store.
		if restored && IsCorrupt(err) {
			os.Remove(s.path)
			if err := s.open(); err != nil {
				return err
			}
			restored = false
		} else {
			return err
		}
	}

	s.logger.Info("store recovered",
		"schema", s.schema.Name,
		"from_backup", restored)
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsCorrupt reports whether err indicates an unreadable store file.
func IsCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if memerr.IsKind(err, memerr.KindCorruption) || errors.Is(err, memerr.ErrCorrupt) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "corrupt")
}

// IsConstraint reports whether err indicates a constraint violation.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}

// classify maps a low-level database error onto the shared taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return memerr.NewNotFoundError(op, memerr.ErrNotFound)
	case IsCorrupt(err):
		return memerr.NewCorruptionError(op, fmt.Errorf("%w: %v", memerr.ErrCorrupt, err))
	case IsConstraint(err):
		return memerr.NewIntegrityError(op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return memerr.NewTimeoutError(op, err)
	default:
		return memerr.NewInternalError(op, err)
	}
}

// copyFile copies src to dst, creating or truncating dst.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
