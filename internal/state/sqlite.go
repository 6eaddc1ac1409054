package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqliteOpTimeout = 5 * time.Second

// SQLiteKV stores pairs in the kv table created by storage.BootstrapSQLite.
type SQLiteKV struct {
	db *sql.DB
}

func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	return s.GetContext(ctx, key)
}

func (s *SQLiteKV) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	return s.SetContext(ctx, key, value)
}

// GetContext reads key. A missing key is reported with ok=false.
func (s *SQLiteKV) GetContext(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("key is empty")
	}
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?;", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read kv %q: %w", key, err)
	}
	return value, true, nil
}

// SetContext upserts key.
func (s *SQLiteKV) SetContext(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, key, value, now)
	if err != nil {
		return fmt.Errorf("upsert kv %q: %w", key, err)
	}
	return nil
}
