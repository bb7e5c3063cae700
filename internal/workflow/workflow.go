// Package workflow implements the per-file state machine: create an
// isolated sandbox, drive the assistant to rewrite the file, verify the
// findings are gone, gate on tests, and transplant the change into the
// main tree as one atomic commit.
//
// States are explicit and transitions run through a single step
// function; the Run loop only invokes step and handles terminal states.
// On return, either a commit for the file exists in the main tree or
// the main tree is untouched.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stomperdev/stomper/internal/agent"
	"github.com/stomperdev/stomper/internal/events"
	"github.com/stomperdev/stomper/internal/gitops"
	"github.com/stomperdev/stomper/internal/learning"
	"github.com/stomperdev/stomper/internal/prompt"
	"github.com/stomperdev/stomper/internal/sandbox"
	"github.com/stomperdev/stomper/internal/tools"
	"github.com/stomperdev/stomper/internal/types"
)

// state is one node of the per-file state machine.
type state string

const (
	stateCreateSandbox state = "create_sandbox"
	stateFixing        state = "fixing"
	stateVerifying     state = "verifying"
	stateTesting       state = "testing"
	stateExtracting    state = "extracting"
	stateCommitting    state = "committing"
	stateDone          state = "done"
	stateFailed        state = "failed"
)

// Deps are the collaborators a sub-workflow needs. All of them are
// shared across sub-workflows and must be safe for concurrent use;
// ApplyLock serializes the apply+commit critical section.
type Deps struct {
	Sandboxes sandbox.Manager
	Broker    *gitops.Broker
	Tools     *tools.Registry
	Invoker   *agent.Invoker
	Mapper    *learning.Mapper
	Prompts   *prompt.Builder
	Reporter  events.Reporter

	// ApplyLock guards patch application and the subsequent commit,
	// globally serialized across the session
	ApplyLock sync.Locker

	// Advice maps rule codes to fixing advice for prompts
	Advice map[string]string

	// SessionID and BaseCommit are immutable session attributes
	SessionID  string
	BaseCommit string

	// RepoRoot is the main working tree, used directly when isolation
	// is off
	RepoRoot string

	// Isolate runs the assistant in a sandbox and transplants the change
	// as a patch. With isolation off the assistant edits the main tree in
	// place; the session enforces a concurrency limit of one in that mode.
	Isolate bool

	// Strategy selects how findings are batched per assistant invocation
	Strategy types.ProcessingStrategy

	// RunTests enables the sandbox test gate
	RunTests bool

	// TestMode selects full, quick, final, or none
	TestMode types.TestMode

	// TestCommand overrides the test runner binary
	TestCommand string

	// TestTimeout bounds one test run
	TestTimeout time.Duration
}

// Result is the record a sub-workflow returns for aggregation.
type Result struct {
	// Path is the repo-relative file path
	Path string

	// Succeeded reports whether a commit for the file landed
	Succeeded bool

	// ErrorsFixed counts findings confirmed fixed and committed
	ErrorsFixed int

	// CommitMessage is the recorded commit message on success
	CommitMessage string

	// Err is the originating cause on failure
	Err error
}

// FileWorkflow processes exactly one FileWork end-to-end inside one
// sandbox.
type FileWorkflow struct {
	deps Deps
	work *types.FileWork

	sb           *sandbox.Sandbox
	original     []types.Finding
	patch        string
	commitMsg    string
	lastStrategy learning.Strategy
	attemptNotes []string

	invoked   bool
	verified  bool
	committed bool
}

// New creates a sub-workflow for one FileWork.
func New(deps Deps, work *types.FileWork) *FileWorkflow {
	if deps.Reporter == nil {
		deps.Reporter = events.NopReporter{}
	}

	original := make([]types.Finding, len(work.Findings))
	copy(original, work.Findings)

	return &FileWorkflow{
		deps:     deps,
		work:     work,
		original: original,
	}
}

// Run drives the state machine to a terminal state. The sandbox is
// always destroyed, and outcomes are recorded in the mapper, on both
// success and failure paths.
func (w *FileWorkflow) Run(ctx context.Context) Result {
	w.work.Status = types.FileStatusInProgress

	current := stateCreateSandbox
	var runErr error

	for current != stateDone && current != stateFailed {
		// Cooperative cancellation at every transition.
		if err := ctx.Err(); err != nil {
			runErr = err
			current = stateFailed
			break
		}

		next, err := w.step(ctx, current)
		if err != nil {
			runErr = err
			current = stateFailed
			break
		}
		current = next
	}

	// Destroy the worktree even when the session context is cancelled.
	if w.sb != nil {
		w.deps.Sandboxes.Destroy(context.Background(), w.sb.ID)
	}

	w.recordOutcomes(ctx)

	if current == stateFailed {
		w.work.Status = types.FileStatusFailed
		if runErr != nil {
			w.work.LastError = runErr.Error()
		}
		w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeFileFailed,
			w.deps.SessionID, w.work.Path, events.SeverityError, w.work.LastError))
		return Result{Path: w.work.Path, Err: fmt.Errorf("file workflow failed for %s: %w", w.work.Path, runErr)}
	}

	w.work.Status = types.FileStatusCompleted
	w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeFileCompleted,
		w.deps.SessionID, w.work.Path, events.SeverityInfo,
		fmt.Sprintf("fixed %d finding(s)", len(w.work.FixedFindings))))

	return Result{
		Path:          w.work.Path,
		Succeeded:     true,
		ErrorsFixed:   len(w.work.FixedFindings),
		CommitMessage: w.commitMsg,
	}
}

// step executes one state and returns the next.
func (w *FileWorkflow) step(ctx context.Context, current state) (state, error) {
	switch current {
	case stateCreateSandbox:
		return w.createSandbox(ctx)
	case stateFixing:
		return w.fix(ctx)
	case stateVerifying:
		return w.verify(ctx)
	case stateTesting:
		return w.test(ctx)
	case stateExtracting:
		return w.extract(ctx)
	case stateCommitting:
		return w.applyAndCommit(ctx)
	default:
		return stateFailed, fmt.Errorf("invalid state: %s", current)
	}
}

// dir returns the working tree this sub-workflow operates on: the
// sandbox when isolated, the main tree otherwise.
func (w *FileWorkflow) dir() string {
	if w.sb != nil {
		return w.sb.Path
	}
	return w.deps.RepoRoot
}

// createSandbox provisions the isolated worktree rooted at the session's
// base commit. The sandbox ID is {session}_{stem}; a short suffix
// resolves stem collisions between files in different directories.
func (w *FileWorkflow) createSandbox(ctx context.Context) (state, error) {
	if !w.deps.Isolate {
		return stateFixing, nil
	}

	id := fmt.Sprintf("%s_%s", w.deps.SessionID, w.work.Stem())

	sb, err := w.deps.Sandboxes.Create(ctx, id, w.deps.BaseCommit)
	if err != nil {
		id = fmt.Sprintf("%s-%s", id, uuid.New().String()[:8])
		sb, err = w.deps.Sandboxes.Create(ctx, id, w.deps.BaseCommit)
		if err != nil {
			return stateFailed, err
		}
	}

	w.sb = sb
	return stateFixing, nil
}

// fix invokes the assistant with mapper-selected strategies until the
// file changes or the attempt budget runs out. Prompt generation happens
// inside the factory so every retry renders with the escalated strategy
// and fresh file content.
func (w *FileWorkflow) fix(ctx context.Context) (state, error) {
	budget := w.work.MaxAttempts - w.work.Attempts
	if budget < 1 {
		return stateFailed, fmt.Errorf("max attempts (%d) exhausted with findings remaining", w.work.MaxAttempts)
	}

	// Invocations spent in earlier verify rounds seed strategy
	// escalation, so a difficult pattern keeps climbing the ladder
	// instead of restarting at the round-zero recommendation.
	baseRetry := w.work.Attempts

	targets := strategyTargets(w.deps.Strategy, w.work.Findings)
	primary := targets[0]

	factory := func(rec learning.AdaptiveStrategy) (string, error) {
		w.work.Attempts++
		w.lastStrategy = rec.Verbosity

		content, err := os.ReadFile(filepath.Join(w.dir(), w.work.Path))
		if err != nil {
			return "", fmt.Errorf("failed to read file from sandbox: %w", err)
		}

		return w.deps.Prompts.Build(&prompt.Context{
			FilePath:         w.work.Path,
			FileContent:      string(content),
			Findings:         targets,
			Advice:           w.deps.Advice,
			Strategy:         rec,
			PreviousAttempts: w.attemptNotes,
		})
	}

	w.invoked = true
	if err := w.deps.Invoker.InvokeWithFallback(ctx, w.dir(), w.work.Path,
		primary.Tool, primary.Code, factory, baseRetry, budget); err != nil {
		return stateFailed, err
	}

	return stateVerifying, nil
}

// verify re-runs the enabled tools against the file in the sandbox and
// splits the original findings into fixed and remaining.
func (w *FileWorkflow) verify(ctx context.Context) (state, error) {
	current, err := w.deps.Tools.RunAll(ctx, w.dir(), []string{w.work.Path})
	if err != nil {
		return stateFailed, fmt.Errorf("verification failed: %w", err)
	}

	fixed, remaining := splitResolved(w.work.Findings, current)

	w.work.FixedFindings = append(w.work.FixedFindings, fixed...)
	w.work.Findings = remaining
	w.verified = true

	w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeVerifyCompleted,
		w.deps.SessionID, w.work.Path, events.SeverityInfo,
		fmt.Sprintf("verify: %d fixed, %d remaining", len(fixed), len(remaining))))

	if len(remaining) == 0 {
		return stateTesting, nil
	}

	if w.work.Attempts < w.work.MaxAttempts {
		w.work.Status = types.FileStatusRetrying
		w.attemptNotes = append(w.attemptNotes,
			fmt.Sprintf("attempt %d left %d finding(s): %s",
				w.work.Attempts, len(remaining), summarizeCodes(remaining)))
		w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeFileRetrying,
			w.deps.SessionID, w.work.Path, events.SeverityInfo,
			fmt.Sprintf("retrying, %d finding(s) remain", len(remaining))))
		return stateFixing, nil
	}

	return stateFailed, fmt.Errorf("%d finding(s) remain after %d attempt(s)", len(remaining), w.work.Attempts)
}

// test runs the configured test gate in the sandbox.
func (w *FileWorkflow) test(ctx context.Context) (state, error) {
	if !w.deps.RunTests {
		return stateExtracting, nil
	}

	runner := &testRunner{command: w.deps.TestCommand, timeout: w.deps.TestTimeout}
	if err := runner.Run(ctx, w.dir(), w.deps.TestMode, w.work.Path); err != nil {
		return stateFailed, err
	}

	w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeTestsRun,
		w.deps.SessionID, w.work.Path, events.SeverityInfo, "test gate passed"))

	return stateExtracting, nil
}

// extract pulls the patch out of the sandbox. An empty patch at this
// point is a failure, not a silent success: verification said the
// findings are gone, so an unchanged tree means nothing actually
// happened. With isolation off the main tree already carries the
// change and there is nothing to transplant.
func (w *FileWorkflow) extract(ctx context.Context) (state, error) {
	if !w.deps.Isolate {
		changed, err := w.deps.Broker.HasChanges(ctx, w.deps.RepoRoot)
		if err != nil {
			return stateFailed, err
		}
		if !changed {
			return stateFailed, agent.ErrNoChange
		}
		return stateCommitting, nil
	}

	patch, err := w.deps.Broker.ExtractDiff(ctx, w.sb.Path)
	if err != nil {
		return stateFailed, err
	}
	if strings.TrimSpace(patch) == "" {
		return stateFailed, agent.ErrNoChange
	}

	w.patch = patch
	return stateCommitting, nil
}

// applyAndCommit transplants the patch into the main tree and records
// the commit. Apply and commit execute as one critical section under
// the session's shared lock.
func (w *FileWorkflow) applyAndCommit(ctx context.Context) (state, error) {
	message := buildCommitMessage(w.work.Path, w.work.FixedFindings)

	w.deps.ApplyLock.Lock()
	defer w.deps.ApplyLock.Unlock()

	if w.patch != "" {
		if err := w.deps.Broker.ApplyPatch(ctx, w.patch); err != nil {
			return stateFailed, err
		}

		w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypePatchApplied,
			w.deps.SessionID, w.work.Path, events.SeverityInfo, "patch applied to main tree"))
	}

	if err := w.deps.Broker.Commit(ctx, []string{w.work.Path}, message); err != nil {
		return stateFailed, err
	}

	w.commitMsg = message
	w.committed = true

	w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeCommitCreated,
		w.deps.SessionID, w.work.Path, events.SeverityInfo, strings.SplitN(message, "\n", 2)[0]))

	return stateDone, nil
}

// recordOutcomes writes final per-code outcomes to the mapper. The
// invoker already records a failure for every failed invocation, so the
// invoke-failure path adds nothing here; once verification has run, the
// verified split is authoritative.
func (w *FileWorkflow) recordOutcomes(ctx context.Context) {
	if !w.invoked || !w.verified {
		return
	}

	counts := func(findings []types.Finding) map[string]int {
		m := make(map[string]int)
		for _, f := range findings {
			m[f.Key()]++
		}
		return m
	}
	fixedCounts := counts(w.work.FixedFindings)
	remainingCounts := counts(w.work.Findings)

	byKey := make(map[string]types.Finding)
	for _, f := range append(append([]types.Finding{}, w.work.FixedFindings...), w.work.Findings...) {
		if _, ok := byKey[f.Key()]; !ok {
			byKey[f.Key()] = f
		}
	}

	for key, f := range byKey {
		var outcome learning.Outcome
		switch {
		case fixedCounts[key] > 0 && remainingCounts[key] > 0:
			// Some instances of the code fixed, others not.
			outcome = learning.OutcomePartial
		case remainingCounts[key] > 0:
			outcome = learning.OutcomeFailure
		case !w.committed:
			// The code change never landed: tests regressed or the
			// patch could not be applied.
			outcome = learning.OutcomeFailure
		default:
			outcome = learning.OutcomeSuccess
		}
		w.deps.Mapper.Record(f.Tool, f.Code, outcome, w.lastStrategy, w.work.Path)
	}

	w.deps.Reporter.Report(ctx, events.NewFileEvent(events.EventTypeLearningRecorded,
		w.deps.SessionID, w.work.Path, events.SeverityInfo,
		fmt.Sprintf("recorded %d pattern outcome(s)", len(byKey))))
}

// splitResolved partitions the original findings into fixed and
// remaining by matching per-(tool,code) counts against the current
// report. Lines shift as the assistant edits, so instances of the same
// code are matched by count, not position.
func splitResolved(original, current []types.Finding) (fixed, remaining []types.Finding) {
	left := make(map[string]int, len(current))
	for _, f := range current {
		left[f.Key()]++
	}

	for _, f := range original {
		if left[f.Key()] > 0 {
			left[f.Key()]--
			remaining = append(remaining, f)
		} else {
			fixed = append(fixed, f)
		}
	}
	return fixed, remaining
}

// strategyTargets selects the findings one assistant invocation is
// asked to fix. Findings outside the batch stay unresolved and come
// back through the retry path after verification.
func strategyTargets(strategy types.ProcessingStrategy, findings []types.Finding) []types.Finding {
	switch strategy {
	case types.ProcessOneAtATime:
		return findings[:1]
	case types.ProcessBatchByCode:
		code := findings[0].Code
		batch := make([]types.Finding, 0, len(findings))
		for _, f := range findings {
			if f.Code == code {
				batch = append(batch, f)
			}
		}
		return batch
	default:
		return findings
	}
}

// summarizeCodes renders "E501 x2, F401" style summaries for retry notes.
func summarizeCodes(findings []types.Finding) string {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Code]++
	}

	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		if counts[code] > 1 {
			parts = append(parts, fmt.Sprintf("%s x%d", code, counts[code]))
		} else {
			parts = append(parts, code)
		}
	}
	return strings.Join(parts, ", ")
}
