package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stomperdev/stomper/internal/types"
)

// MypyTool runs the mypy type checker with JSON-lines output.
type MypyTool struct{}

// mypyDiagnostic mirrors one line of mypy's --output=json report.
type mypyDiagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Code     string `json:"code"`
}

// Name implements Tool.
func (t *MypyTool) Name() string { return "mypy" }

// Available implements Tool.
func (t *MypyTool) Available() bool { return binaryAvailable("mypy") }

// Run implements Tool. Mypy exits 1 when it reports errors; that is
// success with findings as long as the report parses.
func (t *MypyTool) Run(ctx context.Context, dir string, files []string) ([]types.Finding, error) {
	args := []string{"--output=json", "--no-error-summary"}
	if len(files) > 0 {
		args = append(args, files...)
	} else {
		args = append(args, ".")
	}

	cmd := exec.CommandContext(ctx, "mypy", args...)
	cmd.Dir = dir

	output, err := cmd.Output()
	findings, parseErr := t.parse(dir, output)
	if parseErr != nil {
		if err != nil {
			return nil, fmt.Errorf("%w: mypy: %v", ErrInvocationFailed, err)
		}
		return nil, parseErr
	}
	if err != nil && len(findings) == 0 {
		// Non-zero exit with nothing reported means the run itself broke
		// (bad flags, missing interpreter, internal error).
		if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() > 1 {
			return nil, fmt.Errorf("%w: mypy: %v", ErrInvocationFailed, err)
		}
	}

	return findings, nil
}

// parse decodes mypy's JSON-lines report.
func (t *MypyTool) parse(dir string, output []byte) ([]types.Finding, error) {
	var findings []types.Finding

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var d mypyDiagnostic
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("%w: mypy: %v (line: %q)", ErrParseFailed, err, truncate(line, 120))
		}

		// Notes attach context to a preceding error; they are not
		// actionable findings on their own.
		if d.Severity == "note" {
			continue
		}

		column := d.Column
		if column >= 0 {
			// Mypy columns are 0-based.
			column++
		} else {
			column = 0
		}

		findings = append(findings, types.Finding{
			Tool:        "mypy",
			Code:        d.Code,
			Severity:    mypySeverity(d.Severity),
			File:        relPath(dir, d.File),
			Line:        d.Line,
			Column:      column,
			Message:     d.Message,
			AutoFixable: false,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: mypy: %v", ErrParseFailed, err)
	}

	return findings, nil
}

func mypySeverity(s string) types.Severity {
	switch s {
	case "error":
		return types.SeverityError
	case "warning":
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
