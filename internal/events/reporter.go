package events

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// ConsoleReporter renders events as human-readable progress lines.
// A mutex keeps concurrent sub-workflow output from interleaving
// mid-line.
type ConsoleReporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsoleReporter creates a console reporter writing to out.
// When verbose is false, routine info events are suppressed and only
// file-level milestones, warnings, and errors are shown.
func NewConsoleReporter(out io.Writer, verbose bool) *ConsoleReporter {
	return &ConsoleReporter{out: out, verbose: verbose}
}

// Report implements Reporter.
func (r *ConsoleReporter) Report(ctx context.Context, event *SessionEvent) {
	if !r.verbose && event.Severity == SeverityInfo && !isMilestone(event.Type) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := r.prefix(event)
	if event.FilePath != "" {
		fmt.Fprintf(r.out, "%s [%s] %s\n", prefix, event.FilePath, event.Message)
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", prefix, event.Message)
}

// isMilestone reports whether an info-level event should be shown even
// in quiet mode.
func isMilestone(t EventType) bool {
	switch t {
	case EventTypeSessionStarted, EventTypeSessionCompleted,
		EventTypeFindingsCollected, EventTypeFileCompleted,
		EventTypeFileFailed, EventTypeCommitCreated:
		return true
	}
	return false
}

func (r *ConsoleReporter) prefix(event *SessionEvent) string {
	switch event.Severity {
	case SeverityError:
		return color.RedString("✗")
	case SeverityWarning:
		return color.YellowString("!")
	default:
		switch event.Type {
		case EventTypeFileCompleted, EventTypeCommitCreated, EventTypeSessionCompleted:
			return color.GreenString("✓")
		default:
			return color.CyanString("•")
		}
	}
}
