package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/stomperdev/stomper/internal/events"
	"github.com/stomperdev/stomper/internal/learning"
)

var (
	// ErrAssistantUnavailable is returned when the assistant binary is
	// not on PATH.
	ErrAssistantUnavailable = errors.New("assistant not available")

	// ErrAssistantTimeout is returned when an invocation exceeded its
	// timeout and was terminated.
	ErrAssistantTimeout = errors.New("assistant timed out")

	// ErrAssistantFailed is returned when the assistant exited non-zero.
	ErrAssistantFailed = errors.New("assistant failed")

	// ErrNoChange is returned when the assistant exited cleanly but the
	// target file is unchanged after all retries.
	ErrNoChange = errors.New("assistant produced no change")
)

// PromptFactory renders a prompt for the given strategy. Called once per
// attempt so each retry carries the escalated context.
type PromptFactory func(strategy learning.AdaptiveStrategy) (string, error)

// InvokerConfig holds configuration for the Invoker.
type InvokerConfig struct {
	// Assistant is the subprocess configuration; WorkingDir is set per
	// invocation
	Assistant AssistantConfig

	// Mapper records outcomes and selects strategies
	Mapper *learning.Mapper

	// SpawnsPerMinute paces assistant invocations; zero disables pacing
	SpawnsPerMinute int

	// SessionID scopes emitted events
	SessionID string

	// Reporter receives invocation events; nil means silent
	Reporter events.Reporter
}

// Invoker asks the assistant to rewrite one file in place. It does not
// validate the semantic correctness of the change; verification and
// tests do that. It does guarantee that on failure or timeout the target
// file is restored to its pre-invocation content, so retries start from
// a clean baseline.
type Invoker struct {
	config   InvokerConfig
	mapper   *learning.Mapper
	limiter  *rate.Limiter
	reporter events.Reporter
}

// NewInvoker creates an Invoker and verifies the assistant binary is
// resolvable.
func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	if cfg.Mapper == nil {
		return nil, fmt.Errorf("mapper is required")
	}

	binary := cfg.Assistant.Command
	if binary == "" {
		binary = "claude"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found on PATH", ErrAssistantUnavailable, binary)
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = events.NopReporter{}
	}

	var limiter *rate.Limiter
	if cfg.SpawnsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SpawnsPerMinute)), 1)
	}

	return &Invoker{
		config:   cfg,
		mapper:   cfg.Mapper,
		limiter:  limiter,
		reporter: reporter,
	}, nil
}

// Invoke runs the assistant once against file (repo-relative) inside
// sandboxPath. Success means the assistant exited 0 and the file
// changed.
func (inv *Invoker) Invoke(ctx context.Context, sandboxPath, file, prompt string) error {
	target := filepath.Join(sandboxPath, file)
	snapshot, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("failed to snapshot target file: %w", err)
	}

	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	cfg := inv.config.Assistant
	cfg.WorkingDir = sandboxPath

	inv.reporter.Report(ctx, events.NewFileEvent(events.EventTypeAssistantSpawned,
		inv.config.SessionID, file, events.SeverityInfo, "invoking assistant"))

	assistant, err := Spawn(ctx, cfg, prompt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssistantFailed, err)
	}

	result, err := assistant.Wait(ctx)
	if err != nil {
		inv.restore(ctx, target, file, snapshot)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrAssistantTimeout, err)
	}

	inv.reporter.Report(ctx, events.NewFileEvent(events.EventTypeAssistantCompleted,
		inv.config.SessionID, file, events.SeverityInfo,
		fmt.Sprintf("assistant exited %d after %v", result.ExitCode, result.Duration.Round(time.Millisecond))))

	if !result.Success {
		inv.restore(ctx, target, file, snapshot)
		return fmt.Errorf("%w: exit code %d", ErrAssistantFailed, result.ExitCode)
	}

	after, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("failed to read target file after invocation: %w", err)
	}
	if bytes.Equal(snapshot, after) {
		return ErrNoChange
	}

	return nil
}

// InvokeWithFallback repeatedly invokes the assistant using strategies
// selected by the mapper: Adapt on the first attempt, Fallback on
// subsequent ones. baseRetry is the number of invocations already spent
// on this file in earlier rounds, so escalation for a difficult pattern
// carries across verify/retry cycles instead of restarting at zero.
// Every failed attempt records a failure; success is not recorded here,
// because only verification can tell whether the change actually
// resolved the finding. Returns nil on the first invocation that
// changed the file.
func (inv *Invoker) InvokeWithFallback(ctx context.Context, sandboxPath, file, tool, code string, factory PromptFactory, baseRetry, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var tried []learning.Strategy
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec learning.AdaptiveStrategy
		if attempt == 0 {
			rec = inv.mapper.Adapt(tool, code, baseRetry)
		} else {
			next, ok := inv.mapper.Fallback(tool, code, tried)
			if !ok {
				break
			}
			rec = inv.mapper.Adapt(tool, code, baseRetry+attempt)
			rec.Verbosity = next
		}
		tried = append(tried, rec.Verbosity)

		prompt, err := factory(rec)
		if err != nil {
			return fmt.Errorf("failed to render prompt: %w", err)
		}

		err = inv.Invoke(ctx, sandboxPath, file, prompt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		inv.mapper.Record(tool, code, learning.OutcomeFailure, rec.Verbosity, file)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrNoChange
	}
	return lastErr
}

// restore puts the pre-invocation snapshot back, best-effort.
func (inv *Invoker) restore(ctx context.Context, target, file string, snapshot []byte) {
	if err := os.WriteFile(target, snapshot, 0644); err != nil {
		inv.reporter.Report(ctx, events.NewWarning(inv.config.SessionID, file,
			fmt.Sprintf("failed to restore file after assistant error: %v", err)))
	}
}
