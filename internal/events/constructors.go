package events

import (
	"time"

	"github.com/google/uuid"
)

// New creates a SessionEvent with a fresh ID and the current timestamp.
// Most call sites should prefer the typed constructors below.
func New(eventType EventType, sessionID string, severity EventSeverity, message string) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Severity:  severity,
		Message:   message,
	}
}

// NewFileEvent creates a SessionEvent scoped to a single file.
func NewFileEvent(eventType EventType, sessionID, filePath string, severity EventSeverity, message string) *SessionEvent {
	event := New(eventType, sessionID, severity, message)
	event.FilePath = filePath
	return event
}

// NewWarning creates a warning event. Recovered errors (sandbox destroy
// failures, learning-store write failures) are reported through this.
func NewWarning(sessionID, filePath, message string) *SessionEvent {
	event := New(EventTypeWarning, sessionID, SeverityWarning, message)
	event.FilePath = filePath
	return event
}

// WithData attaches a structured payload to the event and returns it,
// allowing constructor chaining.
func (e *SessionEvent) WithData(data map[string]interface{}) *SessionEvent {
	e.Data = data
	return e
}
