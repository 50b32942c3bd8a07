package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteKV is a sqlite-backed KV for single-user local runs where a redis
// instance would be overkill.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the sqlite database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  updated_at TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteKV{db: db}, nil
}

// Get implements KV.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	storeOpsTotal.WithLabelValues("sqlite", "get").Inc()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		storeErrorsTotal.WithLabelValues("sqlite", "get").Inc()
		return nil, fmt.Errorf("sqlite get %q: %w", key, err)
	}
	return value, nil
}

// Set implements KV.
func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	storeOpsTotal.WithLabelValues("sqlite", "set").Inc()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value=excluded.value,
  updated_at=excluded.updated_at
`, key, value, now)
	if err != nil {
		storeErrorsTotal.WithLabelValues("sqlite", "set").Inc()
		return fmt.Errorf("sqlite set %q: %w", key, err)
	}
	return nil
}

// Remove implements KV.
func (s *SQLiteKV) Remove(ctx context.Context, key string) error {
	storeOpsTotal.WithLabelValues("sqlite", "remove").Inc()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		storeErrorsTotal.WithLabelValues("sqlite", "remove").Inc()
		return fmt.Errorf("sqlite delete %q: %w", key, err)
	}
	return nil
}

// Close implements KV.
func (s *SQLiteKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
