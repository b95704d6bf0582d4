// Package history keeps a per-project lifecycle event log in an embedded
// SQLite database (.airflowctl/history.db). Recording is best-effort: a
// history failure never fails the command that produced the event.
package history

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kaxil/airflowctl/internal/project"
)

// Event kinds recorded by the lifecycle commands.
const (
	EventBuild = "build"
	EventStart = "start"
	EventStop  = "stop"
)

// FileName is the history database file inside the project config dir.
const FileName = "history.db"

// Event is one recorded lifecycle event.
type Event struct {
	ID     int64
	Kind   string
	Detail string
	At     time.Time
}

// Store is a SQLite-backed event log (modernc.org/sqlite driver, CGO-free).
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty history path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, err
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &Store{db: d}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_kind ON lifecycle_events(kind);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends one event.
func (s *Store) Record(ctx context.Context, kind, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events(kind, detail, at) VALUES(?, ?, ?);`,
		kind, detail, time.Now().UTC())
	return err
}

// Recent returns the newest events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, detail, at FROM lifecycle_events ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordEvent is the fire-and-forget helper the commands use: open, record,
// close, logging (not propagating) any failure.
func RecordEvent(ctx context.Context, projectPath, kind, detail string) {
	store, err := Open(filepath.Join(projectPath, project.ConfigDirName, FileName))
	if err != nil {
		slog.Debug("history unavailable", "error", err)
		return
	}
	defer func() { _ = store.Close() }()
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Debug("history schema", "error", err)
		return
	}
	if err := store.Record(ctx, kind, detail); err != nil {
		slog.Debug("history record", "error", err)
	}
}
