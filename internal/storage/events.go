package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/stomperdev/stomper/internal/events"
)

// StoreEvent stores one session event in the log.
func (l *EventLog) StoreEvent(ctx context.Context, event *events.SessionEvent) error {
	var dataJSON []byte
	if event.Data != nil {
		var err error
		dataJSON, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	query := `
		INSERT INTO session_events (
			id, type, timestamp, session_id, file_path, severity, message, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp,
		event.SessionID,
		event.FilePath,
		string(event.Severity),
		event.Message,
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, session=%s): %w", event.Type, event.SessionID, err)
	}

	return nil
}

// GetEvents retrieves events matching the given filter, oldest first;
// with filter.Latest the newest events are returned, newest first.
func (l *EventLog) GetEvents(ctx context.Context, filter events.EventFilter) ([]*events.SessionEvent, error) {
	query := `
		SELECT id, type, timestamp, session_id, file_path, severity, message, data
		FROM session_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.FilePath != "" {
		query += " AND file_path = ?"
		args = append(args, filter.FilePath)
	}
	if len(filter.Types) > 0 {
		query += " AND type IN ("
		for i, t := range filter.Types {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, string(t))
		}
		query += ")"
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	if filter.Latest {
		query += " ORDER BY timestamp DESC"
	} else {
		query += " ORDER BY timestamp ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*events.SessionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return result, nil
}

// PurgeBefore deletes events older than the cutoff and returns how many
// rows were removed.
func (l *EventLog) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM session_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged events: %w", err)
	}
	return n, nil
}

func scanEvent(rows *sql.Rows) (*events.SessionEvent, error) {
	var event events.SessionEvent
	var eventType, severity string
	var filePath, dataJSON sql.NullString

	if err := rows.Scan(
		&event.ID,
		&eventType,
		&event.Timestamp,
		&event.SessionID,
		&filePath,
		&severity,
		&event.Message,
		&dataJSON,
	); err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = events.EventType(eventType)
	event.Severity = events.EventSeverity(severity)
	event.FilePath = filePath.String
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &event.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}

	return &event, nil
}

// Reporter adapts the event log to the events.Reporter interface.
// Storage failures are best-effort: they are printed as warnings and
// never interrupt the session.
type Reporter struct {
	log *EventLog
}

// NewReporter creates a Reporter backed by the given event log.
func NewReporter(log *EventLog) *Reporter {
	return &Reporter{log: log}
}

// Report implements events.Reporter.
func (r *Reporter) Report(ctx context.Context, event *events.SessionEvent) {
	if err := r.log.StoreEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to store session event: %v\n", err)
	}
}
