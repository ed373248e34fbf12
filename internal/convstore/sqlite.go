package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLite stores conversations in a single database file. The version column
// mirrors the version inside the JSON document; the UPDATE guard on it gives
// optimistic locking without read-modify-write races.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: database path required")
	}
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", expanded)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", expanded, err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Create(ctx context.Context, conv *types.Conversation) error {
	conv.Version = 1
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("sqlite store: encode %s: %w", conv.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversations (id, version, data, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Version, string(data), conv.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite store: create %s: %w", conv.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*types.Conversation, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM conversations WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}
	var conv types.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("sqlite store: decode %s: %w", id, err)
	}
	return &conv, nil
}

func (s *SQLite) Update(ctx context.Context, conv *types.Conversation) error {
	next := conv.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("sqlite store: encode %s: %w", conv.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET version = ?, data = ?, updated_at = ? WHERE id = ? AND version = ?`,
		next.Version, string(data), next.UpdatedAt.Format(time.RFC3339Nano), conv.ID, conv.Version)
	if err != nil {
		return fmt.Errorf("sqlite store: update %s: %w", conv.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: update %s: %w", conv.ID, err)
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM conversations WHERE id = ?`, conv.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite store: update %s: %w", conv.ID, err)
		}
		return ErrVersionConflict
	}
	conv.Version = next.Version
	conv.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
