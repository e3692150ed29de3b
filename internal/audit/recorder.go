// Package audit provides a durable SQLite log of sync events and session
// transitions. Writes are fire-and-forget from the hot path (the sink
// interfaces return nothing), so failures are logged, never propagated.
package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tabsync/internal/clock"
	"github.com/roach88/tabsync/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added composite index on sync_events(type, recorded_at_ms)
const currentSchemaVersion = 1

// Recorder is the audit log. It implements the coordinator's AuditSink and
// the session store's TransitionSink.
//
// Uses SQLite with WAL mode for concurrent read access while the single
// writer appends.
type Recorder struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock injects a clock for recorded_at timestamps. Defaults to the
// system clock.
func WithClock(clk clock.Clock) Option {
	return func(r *Recorder) { r.clock = clk }
}

// WithLogger injects a logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// Open creates or opens the audit database at the given path. Applies
// required pragmas and migrations automatically; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	r := &Recorder{
		db:     db,
		clock:  clock.NewSystem(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record implements the coordinator audit sink: one row per published,
// dispatched, or discarded event. Failures are logged, not returned.
func (r *Recorder) Record(direction string, e event.Event, reason string) {
	var data any
	if e.Data != nil {
		encoded, err := json.Marshal(e.Data)
		if err != nil {
			r.logger.Warn("audit: event payload not serializable", "type", e.Type, "error", err)
		} else {
			data = string(encoded)
		}
	}

	_, err := r.db.ExecContext(context.Background(), `
		INSERT INTO sync_events
		(direction, type, origin_id, origin, ts_ms, data, reason, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		direction,
		string(e.Type),
		e.OriginID,
		e.Origin,
		e.TimestampMs,
		data,
		reason,
		r.clock.Now().UnixMilli(),
	)
	if err != nil {
		r.logger.Warn("audit: write sync event failed", "direction", direction, "error", err)
	}
}

// RecordTransition implements the session transition sink.
func (r *Recorder) RecordTransition(op, outcome, userID string) {
	_, err := r.db.ExecContext(context.Background(), `
		INSERT INTO session_transitions
		(op, outcome, user_id, recorded_at_ms)
		VALUES (?, ?, ?, ?)
	`,
		op,
		outcome,
		userID,
		r.clock.Now().UnixMilli(),
	)
	if err != nil {
		r.logger.Warn("audit: write session transition failed", "op", op, "error", err)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds an index used by the per-type queries. New databases get
// equivalent coverage from schema.sql, but the CREATE INDEX IF NOT EXISTS
// keeps this a safe no-op either way.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_events_type
		ON sync_events(type, recorded_at_ms)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
