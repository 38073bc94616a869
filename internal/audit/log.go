// Package audit keeps an append-only SQLite record of incident lifecycle events.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultAuditPath = "audit/audit.sqlite"

// Incident lifecycle event types.
const (
	EventIncidentStarted   = "incident_started"
	EventFusionCompleted   = "fusion_completed"
	EventPlansGenerated    = "plans_generated"
	EventSelectionRejected = "selection_rejected"
	EventPlanSelected      = "plan_selected"
	EventExecutionFinished = "execution_finished"
	EventIncidentFailed    = "incident_failed"
)

// Event is one stored audit row.
type Event struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"ts"`
	Actor      string          `json:"actor"`
	Type       string          `json:"type"`
	IncidentID string          `json:"incident_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Logger writes audit events to a specific SQLite DB path.
type Logger struct {
	DBPath string
}

// NewLogger returns a Logger bound to the provided DB path.
func NewLogger(dbPath string) *Logger {
	return &Logger{DBPath: dbPath}
}

// LogEvent records an event against the default database.
func LogEvent(actor, eventType, incidentID string, payload any) error {
	return logEvent("", actor, eventType, incidentID, payload)
}

// LogEvent records an event. A nil Logger writes to the default database.
func (l *Logger) LogEvent(actor, eventType, incidentID string, payload any) error {
	if l == nil {
		return logEvent("", actor, eventType, incidentID, payload)
	}
	return logEvent(l.DBPath, actor, eventType, incidentID, payload)
}

// Events returns stored events in insertion order. An empty incidentID
// returns every event.
func (l *Logger) Events(incidentID string) ([]Event, error) {
	path := ""
	if l != nil {
		path = l.DBPath
	}
	resolved, err := resolveDBPath(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := ensureSchema(db); err != nil {
		return nil, err
	}

	query := "SELECT id, ts, actor, type, incident_id, payload_json FROM events"
	var args []any
	if incidentID != "" {
		query += " WHERE incident_id = ?"
		args = append(args, incidentID)
	}
	rows, err := db.Query(query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			ts      string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Actor, &ev.Type, &ev.IncidentID, &payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func logEvent(dbPath, actor, eventType, incidentID string, payload any) error {
	resolved, err := resolveDBPath(dbPath)
	if err != nil {
		return err
	}
	return writeEvent(resolved, actor, eventType, incidentID, payload)
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			incident_id TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS events_incident ON events(incident_id);
	`)
	if err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

func resolveDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		dbPath = os.Getenv("THREATFUSION_AUDIT_DB")
	}
	if dbPath == "" {
		dbPath = defaultAuditPath
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve audit db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure audit db dir: %w", err)
	}
	return absPath, nil
}

func writeEvent(dbPath, actor, eventType, incidentID string, payload any) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := ensureSchema(db); err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = db.Exec(
		"INSERT INTO events (ts, actor, type, incident_id, payload_json) VALUES (?, ?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano),
		actor,
		eventType,
		incidentID,
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
