package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event type constants: process events
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
)

// Event type constants: message resolution events
const (
	EventMessageReceived     = "message.received"
	EventWelcomeSent         = "welcome.sent"
	EventResolutionStarted   = "resolution.started"
	EventCredentialResolved  = "credential.resolved"
	EventTierSkipped         = "tier.skipped"
	EventTierFailed          = "tier.failed"
	EventTierSucceeded       = "tier.succeeded"
	EventResolutionCompleted = "resolution.completed"
	EventResolutionCanceled  = "resolution.canceled"
	EventReplySent           = "reply.sent"
	EventReplyFailed         = "reply.failed"
	EventRetryScheduled      = "retry.scheduled"
	EventRetryExhausted      = "retry.exhausted"
	EventCircuitOpened       = "circuit.opened"
	EventCircuitHalfOpen     = "circuit.half_open"
	EventCircuitClosed       = "circuit.closed"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// OpenReadOnly opens an existing database without creating it.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("db at %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}
	return db, nil
}

// InitSchema creates all tables: events, inbox, history, user_settings.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);

		CREATE TABLE IF NOT EXISTS inbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			update_id INTEGER NOT NULL UNIQUE,
			chat_id INTEGER NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			user_email TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			message_date INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INTEGER NOT NULL DEFAULT 0,
			reply TEXT,
			outcome TEXT,
			locked_at INTEGER,
			error TEXT,
			created_at INTEGER NOT NULL DEFAULT (unixepoch()),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_inbox_status_id ON inbox(status, id);

		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_history_chat_id ON history(chat_id, id);

		CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			api_key TEXT,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	return err
}

// DeriveOffset returns the next Telegram polling offset derived from the inbox table.
// Returns 0 if inbox is empty.
func DeriveOffset(database *sql.DB) (int64, error) {
	var offset int64
	err := database.QueryRow(`SELECT COALESCE(MAX(update_id) + 1, 0) FROM inbox`).Scan(&offset)
	return offset, err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// OutcomeCount is the number of resolutions that ended on one outcome.
type OutcomeCount struct {
	Outcome string
	Count   int64
}

// OutcomeCounts aggregates resolution.completed events by outcome, most
// frequent first.
func OutcomeCounts(database *sql.DB) ([]OutcomeCount, error) {
	rows, err := database.Query(`
		SELECT COALESCE(json_extract(payload, '$.outcome'), 'unknown') AS outcome, COUNT(*)
		FROM events WHERE event_type = ?
		GROUP BY outcome ORDER BY COUNT(*) DESC, outcome ASC`,
		EventResolutionCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeCount
	for rows.Next() {
		var tc OutcomeCount
		if err := rows.Scan(&tc.Outcome, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// FailureCount is the number of tier failures for one tier and error class.
type FailureCount struct {
	Tier  string
	Class string
	Count int64
}

// FailureCounts aggregates tier.failed and tier.skipped events by tier and class.
func FailureCounts(database *sql.DB) ([]FailureCount, error) {
	rows, err := database.Query(`
		SELECT COALESCE(json_extract(payload, '$.tier'), 'unknown') AS tier,
		       COALESCE(json_extract(payload, '$.error_class'), 'unknown') AS class,
		       COUNT(*)
		FROM events WHERE event_type IN (?, ?)
		GROUP BY tier, class ORDER BY tier ASC, class ASC`,
		EventTierFailed, EventTierSkipped,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailureCount
	for rows.Next() {
		var fc FailureCount
		if err := rows.Scan(&fc.Tier, &fc.Class, &fc.Count); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// TableCounts returns the row count of each core table.
func TableCounts(database *sql.DB) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, table := range []string{"events", "inbox", "history", "user_settings"} {
		var n int64
		if err := database.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
