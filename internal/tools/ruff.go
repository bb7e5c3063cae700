package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stomperdev/stomper/internal/types"
)

// RuffTool runs the ruff linter with JSON output.
type RuffTool struct{}

// ruffDiagnostic mirrors one entry of ruff's JSON report. Unknown fields
// are ignored so newer ruff releases don't break parsing.
type ruffDiagnostic struct {
	Code     string `json:"code"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
	Fix *struct {
		Applicability string `json:"applicability"`
	} `json:"fix"`
}

// Name implements Tool.
func (t *RuffTool) Name() string { return "ruff" }

// Available implements Tool.
func (t *RuffTool) Available() bool { return binaryAvailable("ruff") }

// Run implements Tool. Ruff exits 1 when it reports findings, so the
// exit code alone never decides success: the report does.
func (t *RuffTool) Run(ctx context.Context, dir string, files []string) ([]types.Finding, error) {
	args := []string{"check", "--output-format", "json", "--exit-zero"}
	if len(files) > 0 {
		args = append(args, files...)
	} else {
		args = append(args, ".")
	}

	cmd := exec.CommandContext(ctx, "ruff", args...)
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		// --exit-zero keeps findings from producing a non-zero exit, so
		// any error here is a real invocation failure unless the output
		// still parses.
		if len(output) == 0 || !json.Valid(output) {
			return nil, fmt.Errorf("%w: ruff: %v", ErrInvocationFailed, err)
		}
	}

	return t.parse(dir, output)
}

// parse decodes ruff's JSON report.
func (t *RuffTool) parse(dir string, output []byte) ([]types.Finding, error) {
	var diagnostics []ruffDiagnostic
	if err := json.Unmarshal(output, &diagnostics); err != nil {
		return nil, fmt.Errorf("%w: ruff: %v", ErrParseFailed, err)
	}

	findings := make([]types.Finding, 0, len(diagnostics))
	for _, d := range diagnostics {
		findings = append(findings, types.Finding{
			Tool:        "ruff",
			Code:        d.Code,
			Severity:    ruffSeverity(d.Code),
			File:        relPath(dir, d.Filename),
			Line:        d.Location.Row,
			Column:      d.Location.Column,
			Message:     d.Message,
			AutoFixable: d.Fix != nil,
		})
	}

	return findings, nil
}

// ruffSeverity maps a ruff rule code onto the three-value ladder. Ruff
// does not report severities; the convention follows pycodestyle, where
// W-prefixed rules are warnings and everything else is an error.
func ruffSeverity(code string) types.Severity {
	if strings.HasPrefix(code, "W") {
		return types.SeverityWarning
	}
	return types.SeverityError
}
