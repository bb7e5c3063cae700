// Package events defines the structured event stream emitted during a
// session. Components report progress through a Reporter handle passed
// down from the session; there is no process-wide logger.
package events

import (
	"context"
	"time"
)

// EventType represents the type of event that occurred during a session.
type EventType string

const (
	// EventTypeSessionStarted indicates a session was initialized
	EventTypeSessionStarted EventType = "session_started"
	// EventTypeSessionCompleted indicates a session finished, success or failure
	EventTypeSessionCompleted EventType = "session_completed"
	// EventTypeFindingsCollected indicates findings collection finished
	EventTypeFindingsCollected EventType = "findings_collected"

	// EventTypeSandboxCreated indicates an isolated worktree was created
	EventTypeSandboxCreated EventType = "sandbox_created"
	// EventTypeSandboxDestroyed indicates a worktree was removed
	EventTypeSandboxDestroyed EventType = "sandbox_destroyed"

	// EventTypeAssistantSpawned indicates the fixing assistant was started
	EventTypeAssistantSpawned EventType = "assistant_spawned"
	// EventTypeAssistantCompleted indicates the assistant exited
	EventTypeAssistantCompleted EventType = "assistant_completed"

	// EventTypeVerifyCompleted indicates post-fix verification finished
	EventTypeVerifyCompleted EventType = "verify_completed"
	// EventTypeTestsRun indicates the sandbox test gate ran
	EventTypeTestsRun EventType = "tests_run"

	// EventTypePatchApplied indicates a patch landed on the main tree
	EventTypePatchApplied EventType = "patch_applied"
	// EventTypeCommitCreated indicates a commit was recorded on the main tree
	EventTypeCommitCreated EventType = "commit_created"

	// EventTypeFileCompleted indicates a file sub-workflow succeeded
	EventTypeFileCompleted EventType = "file_completed"
	// EventTypeFileFailed indicates a file sub-workflow failed
	EventTypeFileFailed EventType = "file_failed"
	// EventTypeFileRetrying indicates a file sub-workflow is retrying
	EventTypeFileRetrying EventType = "file_retrying"

	// EventTypeLearningRecorded indicates an outcome was recorded in the mapper
	EventTypeLearningRecorded EventType = "learning_recorded"
	// EventTypeWarning indicates a recovered, non-fatal problem
	EventTypeWarning EventType = "warning"
)

// EventSeverity indicates how serious an event is.
type EventSeverity string

const (
	// SeverityInfo is routine progress
	SeverityInfo EventSeverity = "info"
	// SeverityWarning is a recovered problem worth surfacing
	SeverityWarning EventSeverity = "warning"
	// SeverityError is a failure that affected the outcome
	SeverityError EventSeverity = "error"
)

// SessionEvent is one structured event emitted during a session.
type SessionEvent struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the event type
	Type EventType `json:"type"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// SessionID identifies the session this event belongs to
	SessionID string `json:"session_id"`

	// FilePath is the repo-relative path the event concerns, if any
	FilePath string `json:"file_path,omitempty"`

	// Severity indicates how serious the event is
	Severity EventSeverity `json:"severity"`

	// Message is a human-readable description
	Message string `json:"message"`

	// Data holds type-specific structured payload
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventFilter selects events when querying the event log.
type EventFilter struct {
	// SessionID filters to one session; empty matches all
	SessionID string

	// FilePath filters to one file; empty matches all
	FilePath string

	// Types filters to the given event types; empty matches all
	Types []EventType

	// Since filters to events at or after the given time
	Since time.Time

	// Limit caps the number of returned events; 0 means no cap
	Limit int

	// Latest selects the newest events instead of the oldest when Limit
	// truncates the result; results are returned newest first
	Latest bool
}

// Reporter receives session events. Implementations must be safe for
// concurrent use; sub-workflows report from multiple goroutines.
type Reporter interface {
	Report(ctx context.Context, event *SessionEvent)
}

// NopReporter discards all events. Useful in tests and for components
// constructed without a session.
type NopReporter struct{}

// Report implements Reporter.
func (NopReporter) Report(ctx context.Context, event *SessionEvent) {}

// MultiReporter fans events out to several reporters in order.
type MultiReporter []Reporter

// Report implements Reporter.
func (m MultiReporter) Report(ctx context.Context, event *SessionEvent) {
	for _, r := range m {
		r.Report(ctx, event)
	}
}
