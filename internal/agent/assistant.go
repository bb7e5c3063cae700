// Package agent spawns the external AI fixing assistant as a subprocess
// inside a sandbox and drives retry and strategy escalation through the
// learning mapper.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// AssistantType selects how the assistant command line is built.
type AssistantType string

const (
	// AssistantTypeClaude runs the Claude Code CLI with the prompt as an
	// argument
	AssistantTypeClaude AssistantType = "claude"

	// AssistantTypeGeneric runs an arbitrary command with the prompt on
	// stdin
	AssistantTypeGeneric AssistantType = "generic"
)

// maxOutputLines caps captured output so a chatty assistant cannot
// exhaust memory.
const maxOutputLines = 10000

// AssistantConfig holds configuration for spawning the assistant.
type AssistantConfig struct {
	// Type selects the command-line builder
	Type AssistantType

	// Command overrides the binary name; empty uses the type's default
	Command string

	// ExtraArgs are appended to the built command line
	ExtraArgs []string

	// WorkingDir is the sandbox the assistant runs in
	WorkingDir string

	// Timeout bounds one invocation; zero uses 5 minutes
	Timeout time.Duration
}

// AssistantResult contains the output and status from one invocation.
type AssistantResult struct {
	Success  bool
	ExitCode int
	Duration time.Duration
	Output   []string
	Errors   []string
}

// Assistant represents a running assistant process.
type Assistant struct {
	cmd       *exec.Cmd
	config    AssistantConfig
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	startTime time.Time
	captured  sync.WaitGroup

	mu     sync.Mutex
	result AssistantResult
}

// Spawn starts the assistant with the given prompt. The working
// directory must be the sandbox; the assistant is expected to rewrite
// the target file in place.
func Spawn(ctx context.Context, cfg AssistantConfig, prompt string) (*Assistant, error) {
	if cfg.WorkingDir == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	cmd, err := buildCommand(cfg, prompt)
	if err != nil {
		return nil, err
	}
	cmd.Dir = cfg.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start assistant: %w", err)
	}

	a := &Assistant{
		cmd:       cmd,
		config:    cfg,
		stdout:    stdout,
		stderr:    stderr,
		startTime: time.Now(),
	}

	a.captured.Add(2)
	go a.capture(a.stdout, func(r *AssistantResult) *[]string { return &r.Output })
	go a.capture(a.stderr, func(r *AssistantResult) *[]string { return &r.Errors })

	return a, nil
}

// Wait waits for the assistant to finish or time out. On timeout the
// process is killed and an error is returned.
func (a *Assistant) Wait(ctx context.Context) (*AssistantResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		a.captured.Wait()
		errCh <- a.cmd.Wait()
	}()

	select {
	case <-timeoutCtx.Done():
		a.Kill()
		<-errCh
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("assistant timed out after %v", a.config.Timeout)
	case err := <-errCh:
		a.mu.Lock()
		defer a.mu.Unlock()

		a.result.Duration = time.Since(a.startTime)
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				a.result.ExitCode = exitErr.ExitCode()
			} else {
				a.result.ExitCode = -1
			}
			a.result.Success = false
		} else {
			a.result.ExitCode = 0
			a.result.Success = true
		}

		result := a.result
		return &result, nil
	}
}

// Kill forcefully terminates the assistant process.
func (a *Assistant) Kill() {
	if a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
}

// capture reads one output stream into the result, capped.
func (a *Assistant) capture(r io.Reader, lines func(*AssistantResult) *[]string) {
	defer a.captured.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		a.mu.Lock()
		dst := lines(&a.result)
		if len(*dst) < maxOutputLines {
			*dst = append(*dst, line)
		} else if len(*dst) == maxOutputLines {
			*dst = append(*dst, "[... output truncated: limit reached ...]")
		}
		a.mu.Unlock()
	}
}

// buildCommand constructs the assistant command line. Claude takes the
// prompt as an argument; generic assistants take it on stdin.
func buildCommand(cfg AssistantConfig, prompt string) (*exec.Cmd, error) {
	switch cfg.Type {
	case AssistantTypeClaude, "":
		binary := cfg.Command
		if binary == "" {
			binary = "claude"
		}
		// Sandboxes are isolated, so permission prompts are skipped for
		// autonomous operation.
		args := []string{"--dangerously-skip-permissions", "-p"}
		args = append(args, cfg.ExtraArgs...)
		args = append(args, prompt)
		return exec.Command(binary, args...), nil
	case AssistantTypeGeneric:
		if cfg.Command == "" {
			return nil, fmt.Errorf("generic assistant requires a command")
		}
		cmd := exec.Command(cfg.Command, cfg.ExtraArgs...)
		cmd.Stdin = strings.NewReader(prompt)
		return cmd, nil
	default:
		return nil, fmt.Errorf("unsupported assistant type: %s", cfg.Type)
	}
}
