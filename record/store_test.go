package record

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/brain/memerr"
)

var testSchema = Schema{
	Name:    "test",
	Version: 1,
	DDL: `
		CREATE TABLE IF NOT EXISTS notes (
			id    TEXT PRIMARY KEY,
			title TEXT NOT NULL UNIQUE,
			body  TEXT NOT NULL DEFAULT ''
		);
	`,
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testSchema, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = s.DB().ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n1', 'hello')`)
	require.NoError(t, err)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	newer := testSchema
	newer.Version = 5
	s, err := Open(path, newer)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, testSchema)
	require.Error(t, err)
	assert.True(t, memerr.IsKind(err, memerr.KindValidation))
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	type state struct {
		LastRun string `json:"last_run"`
		Count   int    `json:"count"`
	}

	require.NoError(t, s.Put(ctx, "maintenance", "decay", state{LastRun: "2026-08-25", Count: 3}))

	var got state
	require.NoError(t, s.Get(ctx, "maintenance", "decay", &got))
	assert.Equal(t, "2026-08-25", got.LastRun)
	assert.Equal(t, 3, got.Count)

	// Replace.
	require.NoError(t, s.Put(ctx, "maintenance", "decay", state{LastRun: "2026-08-26", Count: 4}))
	require.NoError(t, s.Get(ctx, "maintenance", "decay", &got))
	assert.Equal(t, 4, got.Count)

	require.NoError(t, s.Delete(ctx, "maintenance", "decay"))
	err := s.Get(ctx, "maintenance", "decay", &got)
	require.Error(t, err)
	assert.True(t, memerr.IsKind(err, memerr.KindNotFound))
	assert.ErrorIs(t, err, memerr.ErrNotFound)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, "items", fmt.Sprintf("k%d", i), i))
	}
	require.NoError(t, s.Put(ctx, "other", "x", 99))

	var keys []string
	err := s.Scan(ctx, "items", func(key string, record []byte) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4"}, keys)

	// Early stop.
	keys = nil
	err = s.Scan(ctx, "items", func(key string, record []byte) (bool, error) {
		keys = append(keys, key)
		return len(keys) < 2, nil
	})
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestTxRollbackLeavesNoPartialWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n1', 'first')`); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count))
	assert.Zero(t, count, "rolled-back write must not be visible")
}

func TestTxCommit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.ExecContext(ctx, `INSERT INTO notes (id, title) VALUES (?, ?)`,
				fmt.Sprintf("n%d", i), fmt.Sprintf("title %d", i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestConstraintDetection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.DB().ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n1', 'same')`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n2', 'same')`)
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
}

func TestOpenRecoversGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, not even close"), 0o644))

	s, err := Open(path, testSchema)
	require.NoError(t, err, "open must recover, not fail, on an unreadable file")
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Verify(ctx))

	// The bad file was moved aside, not destroyed.
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	// The recovered store is empty but writable.
	_, err = s.DB().ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n1', 'post-recovery')`)
	require.NoError(t, err)
}

func TestRecoveryRestoresFromBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	backup := filepath.Join(dir, "backup", "test.db")

	s, err := Open(path, testSchema, WithBackupPath(backup))
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `INSERT INTO notes (id, title) VALUES ('n1', 'survives')`)
	require.NoError(t, err)
	require.NoError(t, s.Backup(ctx))
	require.NoError(t, s.Close())

	// Clobber the live file.
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	s2, err := Open(path, testSchema, WithBackupPath(backup))
	require.NoError(t, err)
	defer s2.Close()

	var title string
	require.NoError(t, s2.DB().QueryRowContext(ctx, `SELECT title FROM notes WHERE id = 'n1'`).Scan(&title))
	assert.Equal(t, "survives", title)
}

func TestBackupIsRepeatable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), testSchema,
		WithBackupPath(filepath.Join(dir, "backup", "test.db")))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Backup(ctx))
	require.NoError(t, s.Backup(ctx), "second backup must replace the first")
}

func TestOpenValidatesInput(t *testing.T) {
	_, err := Open("", testSchema)
	assert.True(t, memerr.IsKind(err, memerr.KindValidation))

	_, err = Open(filepath.Join(t.TempDir(), "x.db"), Schema{})
	assert.True(t, memerr.IsKind(err, memerr.KindValidation))
}
