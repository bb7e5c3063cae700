// Package storage persists the session event log in a SQLite database
// under the repository's .stomper directory. The log survives sessions
// and backs the activity and statistics commands.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	timestamp   DATETIME NOT NULL,
	session_id  TEXT NOT NULL,
	file_path   TEXT,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	data        TEXT
);

CREATE INDEX IF NOT EXISTS idx_session_events_session
	ON session_events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_session_events_type
	ON session_events(type);
`

// EventLog is the SQLite-backed event store.
type EventLog struct {
	db *sql.DB
}

// Open opens (or creates) the event log at the given path.
// The parent directory is created if missing. WAL mode keeps concurrent
// readers from blocking the single writer.
func Open(path string) (*EventLog, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping event log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}

	return &EventLog{db: db}, nil
}

// Close closes the underlying database.
func (l *EventLog) Close() error {
	return l.db.Close()
}
