package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zero-day-ai/brain/memerr"
)

// Put stores record under (table, key), JSON-encoded. An existing record is
// replaced. Tiers use this for small state that does not warrant its own
// table, such as throttle stamps and maintenance bookkeeping.
func (s *Store) Put(ctx context.Context, table, key string, record any) error {
	const op = "record.Put"

	if table == "" || key == "" {
		return memerr.NewValidationError(op, fmt.Errorf("%w: table and key are required", memerr.ErrInvalidInput))
	}
	data, err := json.Marshal(record)
	if err != nil {
		return memerr.NewValidationError(op, fmt.Errorf("encode record: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tbl, key, record) VALUES (?, ?, ?)
		ON CONFLICT(tbl, key) DO UPDATE SET record = excluded.record, updated_at = datetime('now')`,
		table, key, data)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// Get loads the record stored under (table, key) into out.
// Returns a not-found error when no record exists.
func (s *Store) Get(ctx context.Context, table, key string, out any) error {
	const op = "record.Get"

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM records WHERE tbl = ? AND key = ?`,
		table, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return memerr.NewNotFoundError(op, memerr.ErrNotFound).
			WithContext(map[string]any{"table": table, "key": key})
	}
	if err != nil {
		return classify(op, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return memerr.NewCorruptionError(op, fmt.Errorf("decode record %s/%s: %w", table, key, err))
	}
	return nil
}

// Delete removes the record stored under (table, key).
// Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, table, key string) error {
	const op = "record.Delete"

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tbl = ? AND key = ?`, table, key)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// Scan iterates all records in table in key order, invoking fn with each
// key and raw JSON record. Returning false from fn stops the scan early.
func (s *Store) Scan(ctx context.Context, table string, fn func(key string, record []byte) (bool, error)) error {
	const op = "record.Scan"

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, record FROM records WHERE tbl = ? ORDER BY key`, table)
	if err != nil {
		return classify(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return classify(op, err)
		}
		keep, err := fn(key, data)
		if err != nil {
			return err
		}
		if !keep {
			return nil
		}
	}
	return classify(op, rows.Err())
}
