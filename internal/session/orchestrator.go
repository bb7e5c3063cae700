// Package session drives one end-to-end run: collect findings in the
// main tree, fan files out to sub-workflows under a bounded-concurrency
// semaphore, serialize patch application through a shared lock, and
// aggregate results deterministically.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stomperdev/stomper/internal/agent"
	"github.com/stomperdev/stomper/internal/config"
	"github.com/stomperdev/stomper/internal/events"
	"github.com/stomperdev/stomper/internal/gitops"
	"github.com/stomperdev/stomper/internal/learning"
	"github.com/stomperdev/stomper/internal/prompt"
	"github.com/stomperdev/stomper/internal/sandbox"
	"github.com/stomperdev/stomper/internal/tools"
	"github.com/stomperdev/stomper/internal/types"
	"github.com/stomperdev/stomper/internal/workflow"
)

// Orchestrator owns the shared lock, the concurrency policy, and the
// session lifecycle.
type Orchestrator struct {
	cfg      *config.Config
	repoRoot string
	reporter events.Reporter

	registry  *tools.Registry
	broker    *gitops.Broker
	mapper    *learning.Mapper
	sandboxes sandbox.Manager
	invoker   *agent.Invoker
	prompts   *prompt.Builder
	advice    map[string]string

	// applyLock serializes the apply+commit critical section across all
	// sub-workflows
	applyLock sync.Mutex

	// aggMu guards result aggregation
	aggMu sync.Mutex
}

// New constructs the orchestrator and all components. An enabled tool
// whose binary is missing is fatal here: the session refuses to start.
func New(ctx context.Context, repoRoot string, cfg *config.Config, reporter events.Reporter) (*Orchestrator, error) {
	if reporter == nil {
		reporter = events.NopReporter{}
	}

	registry, err := tools.NewRegistry(cfg.EnabledTools)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tools: %w", err)
	}

	broker, err := gitops.NewBroker(ctx, repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize git broker: %w", err)
	}

	mapper, err := learning.NewMapper(learning.Config{RepoRoot: repoRoot, Reporter: reporter})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize learning store: %w", err)
	}

	prompts, err := prompt.NewBuilder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt builder: %w", err)
	}

	advice, err := config.LoadAdvice(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load advice file: %w", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		repoRoot: repoRoot,
		reporter: reporter,
		registry: registry,
		broker:   broker,
		mapper:   mapper,
		prompts:  prompts,
		advice:   advice,
	}, nil
}

// Run executes the session. The returned state carries the aggregated
// per-file breakdown; the error reports setup or collection failures,
// not individual file failures.
func (o *Orchestrator) Run(ctx context.Context) (*types.SessionState, error) {
	sessionID := fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.New().String()[:8])

	baseCommit, err := o.broker.CurrentCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base commit: %w", err)
	}
	branch, err := o.broker.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current branch: %w", err)
	}

	state := &types.SessionState{
		ID:                 sessionID,
		BaseCommit:         baseCommit,
		EnabledTools:       o.registry.Names(),
		ProcessingStrategy: o.cfg.ProcessingStrategy,
		MaxParallelFiles:   o.cfg.MaxParallelFiles,
		RunTests:           o.cfg.RunTests,
		UseIsolation:       o.cfg.UseIsolation,
		Started:            time.Now(),
		Status:             types.SessionStatusRunning,
	}

	o.reporter.Report(ctx, events.New(events.EventTypeSessionStarted, sessionID,
		events.SeverityInfo, fmt.Sprintf("session started on %s at %s",
			branch, baseCommit[:minInt(12, len(baseCommit))])))

	mgr, err := sandbox.NewManager(sandbox.Config{
		RepoRoot:  o.repoRoot,
		SessionID: sessionID,
		Reporter:  o.reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sandbox manager: %w", err)
	}
	o.sandboxes = mgr

	// Leftovers from a crashed session are garbage.
	if err := mgr.CleanupStale(ctx); err != nil {
		o.reporter.Report(ctx, events.NewWarning(sessionID, "",
			fmt.Sprintf("stale sandbox cleanup failed: %v", err)))
	}

	if err := o.collect(ctx, state); err != nil {
		state.Status = types.SessionStatusFailed
		state.FinalError = err.Error()
		return state, err
	}

	if len(state.Files) == 0 {
		state.Status = types.SessionStatusCompleted
		o.reporter.Report(ctx, events.New(events.EventTypeSessionCompleted, sessionID,
			events.SeverityInfo, "no findings; nothing to do"))
		return state, nil
	}

	if o.cfg.DryRun {
		state.Status = types.SessionStatusCompleted
		o.reporter.Report(ctx, events.New(events.EventTypeSessionCompleted, sessionID,
			events.SeverityInfo, fmt.Sprintf("dry run: %d file(s) with findings", len(state.Files))))
		return state, nil
	}

	// The invoker is session-scoped: it carries the session ID for event
	// attribution and an unavailable assistant is fatal before any
	// sandbox work starts.
	o.invoker, err = agent.NewInvoker(agent.InvokerConfig{
		Assistant: agent.AssistantConfig{
			Type:      agent.AssistantType(o.cfg.Assistant.Type),
			Command:   o.cfg.Assistant.Command,
			ExtraArgs: o.cfg.Assistant.ExtraArgs,
			Timeout:   o.cfg.Assistant.Timeout,
		},
		Mapper:          o.mapper,
		SpawnsPerMinute: o.cfg.Assistant.SpawnsPerMinute,
		SessionID:       sessionID,
		Reporter:        o.reporter,
	})
	if err != nil {
		state.Status = types.SessionStatusFailed
		state.FinalError = err.Error()
		return state, fmt.Errorf("failed to initialize assistant invoker: %w", err)
	}

	fanOutErr := o.fanOut(ctx, state)

	o.teardown(ctx, state, fanOutErr)
	return state, nil
}

// collect runs every enabled tool against the main working tree and
// groups findings into per-file work units, sorted by path.
func (o *Orchestrator) collect(ctx context.Context, state *types.SessionState) error {
	findings, err := o.registry.RunAll(ctx, o.repoRoot, o.cfg.Files)
	if err != nil {
		return fmt.Errorf("findings collection failed: %w", err)
	}

	if o.cfg.MaxErrors > 0 && len(findings) > o.cfg.MaxErrors {
		findings = findings[:o.cfg.MaxErrors]
	}

	byFile := make(map[string][]types.Finding)
	for _, f := range findings {
		byFile[f.File] = append(byFile[f.File], f)
	}

	paths := make([]string, 0, len(byFile))
	for path := range byFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		fileFindings := byFile[path]
		sort.SliceStable(fileFindings, func(i, j int) bool {
			if fileFindings[i].Line != fileFindings[j].Line {
				return fileFindings[i].Line < fileFindings[j].Line
			}
			return fileFindings[i].Column < fileFindings[j].Column
		})

		state.Files = append(state.Files, &types.FileWork{
			Path:        path,
			Findings:    fileFindings,
			MaxAttempts: o.cfg.MaxAttemptsPerFile,
			Status:      types.FileStatusPending,
		})
	}

	o.reporter.Report(ctx, events.New(events.EventTypeFindingsCollected, state.ID,
		events.SeverityInfo,
		fmt.Sprintf("collected %d finding(s) across %d file(s)", len(findings), len(state.Files))))

	return nil
}

// fanOut processes the FileWorks under a bounded-concurrency semaphore.
// The semaphore is acquired in submission (sorted path) order, so a
// limit of 1 yields strictly sequential, deterministic processing.
func (o *Orchestrator) fanOut(ctx context.Context, state *types.SessionState) error {
	deps := workflow.Deps{
		Sandboxes:   o.sandboxes,
		Broker:      o.broker,
		Tools:       o.registry,
		Invoker:     o.invoker,
		Mapper:      o.mapper,
		Prompts:     o.prompts,
		Reporter:    o.reporter,
		ApplyLock:   &o.applyLock,
		Advice:      o.advice,
		SessionID:   state.ID,
		BaseCommit:  state.BaseCommit,
		RepoRoot:    o.repoRoot,
		Isolate:     o.cfg.UseIsolation,
		Strategy:    o.cfg.ProcessingStrategy,
		RunTests:    o.cfg.RunTests,
		TestMode:    o.cfg.TestMode,
		TestCommand: o.cfg.TestCommand,
		TestTimeout: o.cfg.TestTimeout,
	}

	sem := semaphore.NewWeighted(int64(o.cfg.MaxParallelFiles))
	g, gctx := errgroup.WithContext(ctx)

	for _, fw := range state.Files {
		if err := sem.Acquire(gctx, 1); err != nil {
			// Cancelled (or a file failed with continue_on_error off);
			// remaining files stay pending.
			break
		}

		fw := fw
		g.Go(func() error {
			defer sem.Release(1)

			result := workflow.New(deps, fw).Run(gctx)
			o.aggregate(state, result)

			if result.Err != nil && !o.cfg.ContinueOnError {
				return result.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// aggregate merges one sub-workflow result into the session state.
// Order reflects completion order, not submission order; every path
// lands in exactly one of the two lists.
func (o *Orchestrator) aggregate(state *types.SessionState, result workflow.Result) {
	o.aggMu.Lock()
	defer o.aggMu.Unlock()

	if result.Succeeded {
		state.SuccessfulFiles = append(state.SuccessfulFiles, result.Path)
		state.TotalErrorsFixed += result.ErrorsFixed
	} else {
		state.FailedFiles = append(state.FailedFiles, result.Path)
	}
}

// teardown persists the mapper, destroys straggler sandboxes, runs the
// deferred final-mode test gate, and computes the final status.
func (o *Orchestrator) teardown(ctx context.Context, state *types.SessionState, fanOutErr error) {
	if err := o.mapper.Save(); err != nil {
		o.reporter.Report(ctx, events.NewWarning(state.ID, "",
			fmt.Sprintf("failed to persist learning data: %v", err)))
	}

	// Every sub-workflow destroys its own sandbox; anything left is a
	// bug worth surfacing, but never worth failing teardown over.
	for _, id := range o.sandboxes.ListActive() {
		o.reporter.Report(ctx, events.NewWarning(state.ID, "",
			fmt.Sprintf("straggler sandbox %s found at teardown", id)))
		o.sandboxes.Destroy(context.Background(), id)
	}

	// Final-mode testing was deferred from the sub-workflows; run the
	// whole suite once against the main tree now that every fix has
	// landed. Committed files are kept either way.
	if fanOutErr == nil && o.cfg.RunTests && o.cfg.TestMode == types.TestModeFinal &&
		len(state.SuccessfulFiles) > 0 {
		o.reporter.Report(ctx, events.New(events.EventTypeTestsRun, state.ID,
			events.SeverityInfo, "running deferred final test gate"))
		if err := workflow.RunFullSuite(ctx, o.repoRoot, o.cfg.TestCommand, o.cfg.TestTimeout); err != nil {
			fanOutErr = fmt.Errorf("final test gate failed: %w", err)
		}
	}

	switch {
	case fanOutErr != nil:
		state.Status = types.SessionStatusFailed
		state.FinalError = fanOutErr.Error()
	case len(state.FailedFiles) > 0:
		state.Status = types.SessionStatusFailed
	default:
		state.Status = types.SessionStatusCompleted
	}

	severity := events.SeverityInfo
	if state.Status == types.SessionStatusFailed {
		severity = events.SeverityError
	}
	o.reporter.Report(ctx, events.New(events.EventTypeSessionCompleted, state.ID, severity,
		fmt.Sprintf("session %s: %d fixed, %d failed, %d finding(s) resolved",
			state.Status, len(state.SuccessfulFiles), len(state.FailedFiles), state.TotalErrorsFixed)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
