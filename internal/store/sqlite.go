package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is a Store backed by an embedded SQLite database in WAL mode.
type SQLite struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path and initializes its schema.
//
// The caller MUST call Close() when done to ensure the WAL is checkpointed.
//
// Example:
//
//	kv, err := store.Open(filepath.Join(home, ".marksync", "state.db"))
//	if err != nil {
//	    return err
//	}
//	defer kv.Close()
func Open(path string) (*SQLite, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{conn: conn, path: path}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the kv table. Idempotent.
func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,  -- JSON document
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Get implements Store.Get.
func (s *SQLite) Get(ctx context.Context, key Key) ([]byte, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, string(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set implements Store.Set.
func (s *SQLite) Set(ctx context.Context, key Key, value []byte) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.conn.ExecContext(ctx, query, string(key), string(value), now); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *SQLite) Delete(ctx context.Context, key Key) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, string(key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}
