package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinelstack/guardian/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS emergency_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	ts          TEXT NOT NULL,
	ts_ns       INTEGER NOT NULL,
	from_level  INTEGER NOT NULL,
	to_level    INTEGER NOT NULL,
	trigger_type TEXT NOT NULL,
	metrics_json TEXT NOT NULL,
	actions_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_emergency_events_ts_ns ON emergency_events(ts_ns);
`

// SQLiteStore persists emergency events to a local SQLite database. The
// monotonically increasing seq column gives ordered replay independent of
// clock precision.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initialises) the event log at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path is required")
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared", path))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, event models.EmergencyEvent) error {
	metricsJSON, err := json.Marshal(event.TriggerMetrics)
	if err != nil {
		return fmt.Errorf("marshal trigger metrics: %w", err)
	}
	actionsJSON, err := json.Marshal(event.ActionsTaken)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO emergency_events(id, ts, ts_ns, from_level, to_level, trigger_type, metrics_json, actions_json)
		 VALUES (?,?,?,?,?,?,?,?)`,
		event.ID,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Timestamp.UTC().UnixNano(),
		int(event.FromLevel),
		int(event.ToLevel),
		string(event.Trigger),
		string(metricsJSON),
		string(actionsJSON),
	)
	if err != nil {
		return fmt.Errorf("append emergency event: %w", err)
	}
	return nil
}

// Replay implements Store, returning events in append (seq) order.
func (s *SQLiteStore) Replay(ctx context.Context, since time.Time) ([]models.EmergencyEvent, error) {
	query := `SELECT id, ts, from_level, to_level, trigger_type, metrics_json, actions_json
		  FROM emergency_events`
	args := []any{}
	if !since.IsZero() {
		// Compare integer nanoseconds; RFC3339Nano strings do not sort
		// lexicographically once fractional seconds are involved.
		query += ` WHERE ts_ns >= ?`
		args = append(args, since.UTC().UnixNano())
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replay emergency events: %w", err)
	}
	defer rows.Close()

	var events []models.EmergencyEvent
	for rows.Next() {
		var (
			ev          models.EmergencyEvent
			ts          string
			fromLevel   int
			toLevel     int
			trigger     string
			metricsJSON string
			actionsJSON string
		)
		if err := rows.Scan(&ev.ID, &ts, &fromLevel, &toLevel, &trigger, &metricsJSON, &actionsJSON); err != nil {
			return nil, fmt.Errorf("scan emergency event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		ev.Timestamp = parsed
		ev.FromLevel = models.AlertLevel(fromLevel)
		ev.ToLevel = models.AlertLevel(toLevel)
		ev.Trigger = models.TransitionTrigger(trigger)
		if err := json.Unmarshal([]byte(metricsJSON), &ev.TriggerMetrics); err != nil {
			return nil, fmt.Errorf("decode trigger metrics: %w", err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &ev.ActionsTaken); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
