package tools

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stomperdev/stomper/internal/types"
)

func TestNewRegistryRejectsUnknownTool(t *testing.T) {
	if _, err := NewRegistry([]string{"pylint"}); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestRuffParse(t *testing.T) {
	report := `[
		{
			"code": "E501",
			"filename": "/repo/src/app.py",
			"message": "Line too long (120 > 88)",
			"location": {"row": 42, "column": 89},
			"fix": null
		},
		{
			"code": "F401",
			"filename": "/repo/src/app.py",
			"message": "os imported but unused",
			"location": {"row": 1, "column": 8},
			"fix": {"applicability": "safe"}
		},
		{
			"code": "W291",
			"filename": "/repo/src/util.py",
			"message": "Trailing whitespace",
			"location": {"row": 7, "column": 20},
			"fix": {"applicability": "safe"}
		}
	]`

	tool := &RuffTool{}
	findings, err := tool.parse("/repo", []byte(report))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("got %d findings, want 3", len(findings))
	}

	first := findings[0]
	if first.Tool != "ruff" || first.Code != "E501" || first.Line != 42 || first.Column != 89 {
		t.Errorf("unexpected first finding: %+v", first)
	}
	if first.File != "src/app.py" {
		t.Errorf("File = %s, want repo-relative src/app.py", first.File)
	}
	if first.Severity != types.SeverityError {
		t.Errorf("E501 severity = %s, want error", first.Severity)
	}
	if first.AutoFixable {
		t.Error("finding without fix must not be auto-fixable")
	}

	if !findings[1].AutoFixable {
		t.Error("finding with fix must be auto-fixable")
	}
	if findings[2].Severity != types.SeverityWarning {
		t.Errorf("W291 severity = %s, want warning", findings[2].Severity)
	}
}

func TestRuffParseMalformed(t *testing.T) {
	tool := &RuffTool{}
	if _, err := tool.parse("/repo", []byte("not json")); !errors.Is(err, ErrParseFailed) {
		t.Errorf("err = %v, want ErrParseFailed", err)
	}
}

func TestMypyParse(t *testing.T) {
	report := `{"file": "src/app.py", "line": 10, "column": 4, "severity": "error", "message": "Function is missing a type annotation", "code": "no-untyped-def"}
{"file": "src/app.py", "line": 10, "column": 4, "severity": "note", "message": "Use -> None if the function does not return a value", "code": "no-untyped-def"}
{"file": "src/util.py", "line": 3, "column": 0, "severity": "warning", "message": "Unused ignore comment", "code": "unused-ignore"}
`

	tool := &MypyTool{}
	findings, err := tool.parse("/repo", []byte(report))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// The note is context, not a finding.
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}

	first := findings[0]
	if first.Tool != "mypy" || first.Code != "no-untyped-def" || first.Line != 10 {
		t.Errorf("unexpected first finding: %+v", first)
	}
	if first.Column != 5 {
		t.Errorf("Column = %d, want 5 (mypy columns are 0-based)", first.Column)
	}
	if first.Severity != types.SeverityError {
		t.Errorf("severity = %s, want error", first.Severity)
	}
	if findings[1].Severity != types.SeverityWarning {
		t.Errorf("severity = %s, want warning", findings[1].Severity)
	}
}

func TestMypyParseMalformedLine(t *testing.T) {
	tool := &MypyTool{}
	if _, err := tool.parse("/repo", []byte("{broken\n")); !errors.Is(err, ErrParseFailed) {
		t.Errorf("err = %v, want ErrParseFailed", err)
	}
}

func TestRelPath(t *testing.T) {
	dir := filepath.Join("/repo", "project")

	tests := []struct {
		reported string
		want     string
	}{
		{filepath.Join(dir, "src", "app.py"), "src/app.py"},
		{"src/app.py", "src/app.py"},
	}

	for _, tt := range tests {
		if got := relPath(dir, tt.reported); got != tt.want {
			t.Errorf("relPath(%s, %s) = %s, want %s", dir, tt.reported, got, tt.want)
		}
	}
}

func TestFindingKey(t *testing.T) {
	f := types.Finding{Tool: "ruff", Code: "E501"}
	if f.Key() != "ruff:E501" {
		t.Errorf("Key = %s, want ruff:E501", f.Key())
	}
}
