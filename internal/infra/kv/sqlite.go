package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"buybot/internal/settings"

	_ "modernc.org/sqlite"
)

const settingsRow = "bot"

// SQLiteSettings keeps the settings blob in a single-row table.
type SQLiteSettings struct {
	db *sql.DB
}

func OpenSQLiteSettings(path string) (*SQLiteSettings, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}
	return &SQLiteSettings{db: db}, nil
}

func (s *SQLiteSettings) Load(ctx context.Context) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM settings WHERE name = ?`, settingsRow).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, settings.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings row: %w", err)
	}
	return []byte(body), nil
}

func (s *SQLiteSettings) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		settingsRow, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write settings row: %w", err)
	}
	return nil
}

func (s *SQLiteSettings) Close() error {
	return s.db.Close()
}
