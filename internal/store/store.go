// Package store handles SQLite persistence.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Store wraps SQLite access for keystroke logs and n-gram tables.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS keyboards (
			keyboard_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			keyboard_name TEXT NOT NULL DEFAULT '',
			target_ms_per_keystroke INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS practice_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			keyboard_id TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS session_keystrokes (
			session_id TEXT NOT NULL,
			keystroke_id INTEGER NOT NULL,
			keystroke_time TEXT,
			keystroke_char TEXT NOT NULL,
			expected_char TEXT NOT NULL,
			is_error INTEGER NOT NULL,
			time_since_previous INTEGER,
			PRIMARY KEY (session_id, keystroke_id)
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_speed (
			session_id TEXT NOT NULL,
			ngram_size INTEGER NOT NULL,
			ngram_text TEXT NOT NULL,
			avg_time_ms REAL NOT NULL,
			ms_per_keystroke REAL NOT NULL,
			occurrences INTEGER NOT NULL,
			PRIMARY KEY (session_id, ngram_size, ngram_text)
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_errors (
			session_id TEXT NOT NULL,
			ngram_size INTEGER NOT NULL,
			ngram_text TEXT NOT NULL,
			error_count INTEGER NOT NULL,
			PRIMARY KEY (session_id, ngram_size, ngram_text)
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_summary (
			session_id TEXT NOT NULL,
			ngram_text TEXT NOT NULL,
			ngram_size INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			keyboard_id TEXT NOT NULL,
			avg_ms_per_keystroke REAL NOT NULL,
			target_speed_ms INTEGER NOT NULL,
			instance_count INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			session_dt TEXT NOT NULL,
			updated_dt TEXT NOT NULL,
			PRIMARY KEY (session_id, ngram_text, ngram_size)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ngram_speed_size ON session_ngram_speed(ngram_size);`,
		`CREATE INDEX IF NOT EXISTS idx_ngram_errors_size ON session_ngram_errors(ngram_size);`,
		`CREATE INDEX IF NOT EXISTS idx_ngram_summary_keyboard ON session_ngram_summary(keyboard_id, ngram_size);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func closeRows(rows *sql.Rows) {
	if cerr := rows.Close(); cerr != nil {
		// Best-effort rows close.
		_ = cerr
	}
}

func rollback(tx *sql.Tx) {
	if rerr := tx.Rollback(); rerr != nil {
		// Best-effort rollback.
		_ = rerr
	}
}
