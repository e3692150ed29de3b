package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/tabsync/internal/event"
)

// RecordedEvent is one sync_events row.
type RecordedEvent struct {
	ID          int64
	Direction   string
	Type        event.Type
	OriginID    string
	Origin      string
	TimestampMs int64
	Data        string // JSON, empty if the event carried no payload
	Reason      string
	RecordedAt  time.Time
}

// Transition is one session_transitions row.
type Transition struct {
	ID         int64
	Op         string
	Outcome    string
	UserID     string
	RecordedAt time.Time
}

// OriginActivity summarizes one origin's recorded events.
type OriginActivity struct {
	OriginID   string
	EventCount int64
	LastSeen   time.Time
}

// RecentEvents returns the most recent sync events, newest first.
// Returns an empty slice (not nil) when the log is empty.
func (r *Recorder) RecentEvents(ctx context.Context, limit int) ([]RecordedEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, direction, type, origin_id, origin, ts_ms, data, reason, recorded_at_ms
		FROM sync_events
		ORDER BY recorded_at_ms DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsByOrigin returns the most recent sync events from one origin,
// newest first.
func (r *Recorder) EventsByOrigin(ctx context.Context, originID string, limit int) ([]RecordedEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, direction, type, origin_id, origin, ts_ms, data, reason, recorded_at_ms
		FROM sync_events
		WHERE origin_id = ?
		ORDER BY recorded_at_ms DESC, id DESC
		LIMIT ?
	`, originID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events by origin: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ActiveOrigins returns per-origin activity for origins with any event
// recorded at or after since, most recently seen first. Heartbeats count,
// so this approximates which execution contexts are currently alive.
func (r *Recorder) ActiveOrigins(ctx context.Context, since time.Time) ([]OriginActivity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT origin_id, COUNT(*), MAX(recorded_at_ms)
		FROM sync_events
		WHERE recorded_at_ms >= ?
		GROUP BY origin_id
		ORDER BY MAX(recorded_at_ms) DESC, origin_id ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query active origins: %w", err)
	}
	defer rows.Close()

	activity := []OriginActivity{}
	for rows.Next() {
		var a OriginActivity
		var lastMs int64
		if err := rows.Scan(&a.OriginID, &a.EventCount, &lastMs); err != nil {
			return nil, fmt.Errorf("scan origin activity: %w", err)
		}
		a.LastSeen = time.UnixMilli(lastMs).UTC()
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate origin activity: %w", err)
	}

	return activity, nil
}

// Transitions returns the most recent session transitions, newest first.
func (r *Recorder) Transitions(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, op, outcome, user_id, recorded_at_ms
		FROM session_transitions
		ORDER BY recorded_at_ms DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var t Transition
		var recordedMs int64
		if err := rows.Scan(&t.ID, &t.Op, &t.Outcome, &t.UserID, &recordedMs); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.RecordedAt = time.UnixMilli(recordedMs).UTC()
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	return transitions, nil
}

func scanEvents(rows *sql.Rows) ([]RecordedEvent, error) {
	events := []RecordedEvent{}
	for rows.Next() {
		var e RecordedEvent
		var typ string
		var data sql.NullString
		var recordedMs int64
		if err := rows.Scan(&e.ID, &e.Direction, &typ, &e.OriginID, &e.Origin,
			&e.TimestampMs, &data, &e.Reason, &recordedMs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = event.Type(typ)
		e.Data = data.String
		e.RecordedAt = time.UnixMilli(recordedMs).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
