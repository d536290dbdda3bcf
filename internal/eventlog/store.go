// Package eventlog persists recognized commands in SQLite.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"github.com/nupi-ai/plugin-kws-micro-speech/internal/recognize"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    category INTEGER NOT NULL,
    label TEXT NOT NULL,
    confidence REAL NOT NULL,
    audio_ms INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_recorded_at ON commands(recorded_at);
`

// writeTimeout bounds a single insert issued from the recognition loop.
const writeTimeout = 2 * time.Second

// Entry is a stored command.
type Entry struct {
	ID         string
	RunID      string
	Event      recognize.Event
	RecordedAt time.Time
}

// Store appends commands to a SQLite database. Each Store tags its rows with
// a fresh run id so events from separate runs can be told apart.
type Store struct {
	db    *sql.DB
	runID string
	log   *slog.Logger
	now   func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&_busy_timeout=5000"
		} else {
			dsn += "?_busy_timeout=5000"
		}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}
	return &Store{
		db:    db,
		runID: uuid.NewString(),
		log:   logger.With("component", "eventlog"),
		now:   time.Now,
	}, nil
}

// RunID identifies the rows written by this Store.
func (s *Store) RunID() string { return s.runID }

// Record stores ev and returns its id.
func (s *Store) Record(ctx context.Context, ev recognize.Event) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO commands (id, run_id, category, label, confidence, audio_ms, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, s.runID, ev.Category, ev.Label, ev.Confidence, ev.TimestampMs, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("eventlog: insert: %w", err)
	}
	return id, nil
}

// OnCommand implements pipeline.Sink. Failures are logged, never returned to
// the loop.
func (s *Store) OnCommand(ev recognize.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := s.Record(ctx, ev); err != nil {
		s.log.Warn("failed to persist command", "label", ev.Label, "error", err)
	}
}

// Recent returns up to limit commands, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, category, label, confidence, audio_ms, recorded_at FROM commands ORDER BY recorded_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event.Category, &e.Event.Label, &e.Event.Confidence, &e.Event.TimestampMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.RecordedAt = time.UnixMilli(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
