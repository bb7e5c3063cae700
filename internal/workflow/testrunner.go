package workflow

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/stomperdev/stomper/internal/types"
)

// testRunner executes the sandbox test gate.
type testRunner struct {
	// command overrides the test runner; empty uses pytest
	command string

	// timeout bounds one run; zero means no timeout
	timeout time.Duration
}

// RunFullSuite runs the whole test suite in dir. The session uses it at
// teardown to gate final-mode runs after every fix has been committed.
func RunFullSuite(ctx context.Context, dir, command string, timeout time.Duration) error {
	r := &testRunner{command: command, timeout: timeout}
	return r.runPytest(ctx, dir, nil)
}

// Run executes the configured test-validation mode in the sandbox.
// Modes final and none are no-ops here; final runs once against the
// main tree at session teardown instead.
func (r *testRunner) Run(ctx context.Context, sandboxPath string, mode types.TestMode, file string) error {
	switch mode {
	case types.TestModeNone, types.TestModeFinal:
		return nil
	case types.TestModeFull:
		return r.runPytest(ctx, sandboxPath, nil)
	case types.TestModeQuick:
		targets := r.affectedTests(sandboxPath, file)
		if len(targets) == 0 {
			// Heuristic found nothing; the full suite is the only safe
			// answer.
			return r.runPytest(ctx, sandboxPath, nil)
		}
		return r.runPytest(ctx, sandboxPath, targets)
	default:
		return fmt.Errorf("unknown test mode: %s", mode)
	}
}

// affectedTests is a best-effort heuristic: test files whose name is
// derived from the changed file's stem.
func (r *testRunner) affectedTests(sandboxPath, file string) []string {
	base := filepath.Base(file)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	candidates := []string{
		"test_" + stem + ".py",
		stem + "_test.py",
	}

	var targets []string
	_ = filepath.WalkDir(sandboxPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		for _, c := range candidates {
			if name == c {
				rel, relErr := filepath.Rel(sandboxPath, path)
				if relErr == nil {
					targets = append(targets, rel)
				}
			}
		}
		return nil
	})

	return targets
}

// runPytest runs the test command in the sandbox, optionally restricted
// to the given targets.
func (r *testRunner) runPytest(ctx context.Context, sandboxPath string, targets []string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	command := r.command
	if command == "" {
		command = "pytest"
	}

	args := []string{"-x", "-q"}
	args = append(args, targets...)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = sandboxPath

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("test run timed out after %v", r.timeout)
		}
		return fmt.Errorf("tests failed: %w (output: %s)", err, tail(string(output), 2000))
	}

	return nil
}

// tail returns the last n bytes of s, for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
