// Package types defines the core data model shared across stomper's
// components: findings reported by analysis tools, the per-file unit of
// work, and session-level state.
package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// Severity is the three-value ladder findings are mapped onto.
type Severity string

const (
	// SeverityError indicates a finding that must be fixed
	SeverityError Severity = "error"

	// SeverityWarning indicates a finding that should be fixed
	SeverityWarning Severity = "warning"

	// SeverityInfo indicates an informational finding
	SeverityInfo Severity = "info"
)

// Finding is one diagnostic reported by an analysis tool.
// Findings are value types and immutable after collection.
type Finding struct {
	// Tool is the name of the tool that reported this finding (e.g., "ruff")
	Tool string `json:"tool"`

	// Code is the rule code (e.g., "E501", "no-untyped-def")
	Code string `json:"code"`

	// Severity is the mapped severity level
	Severity Severity `json:"severity"`

	// File is the repo-relative path of the file the finding is in
	File string `json:"file"`

	// Line is the 1-based line number
	Line int `json:"line"`

	// Column is the 1-based column number, 0 when the tool didn't report one
	Column int `json:"column,omitempty"`

	// Message is the human-readable diagnostic message
	Message string `json:"message"`

	// AutoFixable reports whether the tool offers an automatic fix
	AutoFixable bool `json:"auto_fixable"`
}

// Key returns the pattern key used by the learning store for this finding.
func (f Finding) Key() string {
	return fmt.Sprintf("%s:%s", f.Tool, f.Code)
}

// String returns a short one-line rendering for logs and error messages.
func (f Finding) String() string {
	return fmt.Sprintf("%s:%d %s [%s]", f.File, f.Line, f.Code, f.Tool)
}

// FileStatus represents the lifecycle state of a FileWork.
type FileStatus string

const (
	// FileStatusPending indicates the file has not been picked up yet
	FileStatusPending FileStatus = "pending"

	// FileStatusInProgress indicates a sub-workflow owns the file
	FileStatusInProgress FileStatus = "in_progress"

	// FileStatusRetrying indicates verification left findings unresolved
	// and another attempt is underway
	FileStatusRetrying FileStatus = "retrying"

	// FileStatusCompleted indicates the fix was committed to the main tree
	FileStatusCompleted FileStatus = "completed"

	// FileStatusFailed indicates the sub-workflow gave up on the file
	FileStatusFailed FileStatus = "failed"

	// FileStatusSkipped indicates the file was filtered out before processing
	FileStatusSkipped FileStatus = "skipped"
)

// FileWork is the per-file unit of processing. It is created by the
// orchestrator after findings collection and mutated only by the
// sub-workflow that owns it.
type FileWork struct {
	// Path is the repo-relative path of the file
	Path string

	// Findings are the findings still unresolved, in collection order
	Findings []Finding

	// FixedFindings are the findings that verification confirmed resolved
	FixedFindings []Finding

	// Attempts counts assistant invocations so far
	Attempts int

	// MaxAttempts bounds Attempts
	MaxAttempts int

	// Status is the current lifecycle state
	Status FileStatus

	// LastError holds the cause of the most recent failure, if any
	LastError string
}

// Stem returns the file name without extension, used for sandbox IDs.
func (w *FileWork) Stem() string {
	base := filepath.Base(w.Path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// ProcessingStrategy selects how many of a file's findings one
// assistant invocation is asked to fix.
type ProcessingStrategy string

const (
	// ProcessAllErrors prompts with every unresolved finding at once
	ProcessAllErrors ProcessingStrategy = "all_errors"

	// ProcessBatchByCode prompts with the findings sharing the first
	// unresolved rule code
	ProcessBatchByCode ProcessingStrategy = "batch_by_code"

	// ProcessOneAtATime prompts with a single finding per invocation
	ProcessOneAtATime ProcessingStrategy = "one_at_a_time"
)

// SessionStatus represents the terminal status of a session run.
type SessionStatus string

const (
	// SessionStatusRunning indicates the session is in flight
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusCompleted indicates every processed file succeeded
	// (including the degenerate zero-findings case)
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed indicates at least one file failed
	SessionStatusFailed SessionStatus = "failed"
)

// TestMode selects how the test suite gates a fix before commit.
type TestMode string

const (
	// TestModeFull runs the whole suite in the sandbox
	TestModeFull TestMode = "full"

	// TestModeQuick runs a best-effort file-affected subset
	TestModeQuick TestMode = "quick"

	// TestModeFinal defers testing to session teardown
	TestModeFinal TestMode = "final"

	// TestModeNone skips tests entirely
	TestModeNone TestMode = "none"
)

// SessionState captures one run of the orchestrator. The ID and
// BaseCommit are immutable after initialization.
type SessionState struct {
	// ID is a timestamped unique identifier for this session
	ID string

	// BaseCommit is the commit sandboxes are rooted at
	BaseCommit string

	// Files is the set of FileWork built during collection
	Files []*FileWork

	// EnabledTools is the configured tool set for this session
	EnabledTools []string

	// ProcessingStrategy is the findings-batching policy in force
	ProcessingStrategy ProcessingStrategy

	// MaxParallelFiles is the bounded-concurrency limit
	MaxParallelFiles int

	// RunTests reports whether the sandbox test gate was enabled
	RunTests bool

	// UseIsolation reports whether fixes ran in sandboxes
	UseIsolation bool

	// Started is when the session was initialized
	Started time.Time

	// SuccessfulFiles lists paths committed to the main tree,
	// in completion order
	SuccessfulFiles []string

	// FailedFiles lists paths that failed, in completion order
	FailedFiles []string

	// TotalErrorsFixed is the sum of fixed findings across committed files
	TotalErrorsFixed int

	// Status is the terminal status of the run
	Status SessionStatus

	// FinalError holds the session-level failure message, if any
	FinalError string
}
