// Package history records supervisor state transitions in SQLite so the
// run history of a service survives restarts of charmd itself.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/5gconnect/charmd/internal/log"
	"github.com/5gconnect/charmd/internal/supervisor"

	// Register sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

// observeTimeout bounds a single insert made from Observe.
const observeTimeout = 5 * time.Second

// Entry is one row of the service_events table.
type Entry struct {
	ID       int64            `json:"id" yaml:"id"`
	Service  string           `json:"service" yaml:"service"`
	From     supervisor.State `json:"from" yaml:"from"`
	To       supervisor.State `json:"to" yaml:"to"`
	HandleID string           `json:"handle,omitempty" yaml:"handle,omitempty"`
	ExitCode *int             `json:"exitCode,omitempty" yaml:"exitCode,omitempty"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
	At       time.Time        `json:"at" yaml:"at"`
}

// Repository defines the data access operations on recorded events.
type Repository interface {
	Record(ctx context.Context, ev supervisor.Event) (int64, error)
	Recent(ctx context.Context, service string, limit int) ([]Entry, error)
}

// Store implements Repository on a SQL database and adapts it to
// supervisor.Observer.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

var _ supervisor.Observer = (*Store)(nil)

// New wraps an already migrated database.
func New(db *sql.DB, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open migrates and opens the database file at path, creating its directory.
func Open(path string, logger log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	if err := Up(path, logger); err != nil {
		return nil, fmt.Errorf("migrating history database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Opened history database", "path", path)
	return New(db, logger), nil
}

// Record inserts ev and returns its row id.
func (s *Store) Record(ctx context.Context, ev supervisor.Event) (int64, error) {
	var exitCode sql.NullInt64
	if ev.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*ev.ExitCode), Valid: true}
	}
	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO service_events (service, from_state, to_state, handle_id, exit_code, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Service, string(ev.From), string(ev.To), ev.HandleID, exitCode, errText, ev.At.UTC())
	if err != nil {
		return 0, fmt.Errorf("recording %s event for %s: %w", ev.To, ev.Service, err)
	}
	return result.LastInsertId()
}

// Recent returns at most limit events for service, newest first.
func (s *Store) Recent(ctx context.Context, service string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service, from_state, to_state, handle_id, exit_code, error, occurred_at
		FROM service_events WHERE service = ? ORDER BY id DESC LIMIT ?
	`, service, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			from, to string
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Service, &from, &to, &e.HandleID, &exitCode, &e.Error, &e.At); err != nil {
			return nil, err
		}
		e.From, e.To = supervisor.State(from), supervisor.State(to)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Observe implements supervisor.Observer. Failures are logged, never
// returned to the supervisor.
func (s *Store) Observe(ev supervisor.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	defer cancel()
	if _, err := s.Record(ctx, ev); err != nil {
		s.logger.Warn("Failed to record service event", "service", ev.Service, "error", err)
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
