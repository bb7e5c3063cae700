package events

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewPopulatesIdentity(t *testing.T) {
	event := New(EventTypeSessionStarted, "sess-1", SeverityInfo, "started")

	if event.ID == "" {
		t.Error("expected a generated event ID")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
	if event.SessionID != "sess-1" || event.Type != EventTypeSessionStarted {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestNewFileEventAndWithData(t *testing.T) {
	event := NewFileEvent(EventTypeFileCompleted, "sess-1", "src/app.py", SeverityInfo, "done").
		WithData(map[string]interface{}{"fixed": 3})

	if event.FilePath != "src/app.py" {
		t.Errorf("FilePath = %s", event.FilePath)
	}
	if event.Data["fixed"] != 3 {
		t.Errorf("Data = %v", event.Data)
	}
}

func TestMultiReporterFansOut(t *testing.T) {
	var a, b countingReporter

	multi := MultiReporter{&a, &b}
	multi.Report(context.Background(), New(EventTypeWarning, "s", SeverityWarning, "w"))

	if a.count != 1 || b.count != 1 {
		t.Errorf("counts = %d, %d; want 1, 1", a.count, b.count)
	}
}

type countingReporter struct{ count int }

func (r *countingReporter) Report(ctx context.Context, event *SessionEvent) { r.count++ }

func TestConsoleReporterQuietSuppressesRoutineInfo(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, false)

	r.Report(context.Background(), New(EventTypeSandboxCreated, "s", SeverityInfo, "created sandbox"))
	if buf.Len() != 0 {
		t.Errorf("routine info leaked in quiet mode: %q", buf.String())
	}

	r.Report(context.Background(), New(EventTypeFileCompleted, "s", SeverityInfo, "fixed 2 finding(s)"))
	if !strings.Contains(buf.String(), "fixed 2 finding(s)") {
		t.Errorf("milestone missing: %q", buf.String())
	}

	r.Report(context.Background(), NewWarning("s", "src/app.py", "something recovered"))
	if !strings.Contains(buf.String(), "[src/app.py] something recovered") {
		t.Errorf("warning missing: %q", buf.String())
	}
}

func TestConsoleReporterVerboseShowsEverything(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, true)

	r.Report(context.Background(), New(EventTypeSandboxCreated, "s", SeverityInfo, "created sandbox"))
	if !strings.Contains(buf.String(), "created sandbox") {
		t.Errorf("verbose mode must show routine info: %q", buf.String())
	}
}
