package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/reelscan/dbopen"
	"github.com/hazyhaar/reelscan/idgen"
)

// Event is one stage transition of a run.
type Event struct {
	ID        string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"event_type"`
	Stage     string    `json:"stage,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// EventLogger writes run events.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates an event logger backed by the store database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Event,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records an event. Write errors are logged, never returned, so a
// failing store does not break a run.
func (l *EventLogger) Log(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO events (event_id, run_id, event_type, stage, details, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Type, e.Stage, e.Details, e.Success, e.CreatedAt.UnixMilli())
	if err != nil {
		l.logger.Error("store: event log failed", "error", err, "event_type", e.Type, "run", e.RunID)
	}
}

// Events returns the events of a run in chronological order.
func (l *EventLogger) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, run_id, event_type, stage, details, success, created_at
		FROM events WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Stage, &e.Details, &e.Success, &ms); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}
