package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stomperdev/stomper/internal/config"
	"github.com/stomperdev/stomper/internal/events"
	"github.com/stomperdev/stomper/internal/session"
	"github.com/stomperdev/stomper/internal/storage"
	"github.com/stomperdev/stomper/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Collect findings and fix them",
	Long: `Run one fixing session: collect findings from the enabled tools,
process each affected file in an isolated sandbox, and commit verified
fixes to the main branch.

Configuration is read from .stomper.yml at the repository root; flags
override file values. Positional arguments restrict processing to the
given repo-relative paths.

Examples:
  stomper run                       # Fix everything the tools report
  stomper run src/app.py            # Fix one file only
  stomper run --tools ruff,mypy     # Enable both tools
  stomper run --dry-run             # Report findings without fixing
  stomper run --max-parallel 4      # Four files concurrently`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, err := resolveRepoRoot()
		if err != nil {
			return err
		}

		cfg, err := config.Load(repoRoot)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg, args)
		if err := cfg.Validate(); err != nil {
			return err
		}

		// Ctrl-C cancels cooperatively: in-flight sandboxes are destroyed
		// and already-committed files are kept.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		console := events.NewConsoleReporter(os.Stdout, verboseFlag)
		reporter := events.Reporter(console)

		eventLog, err := storage.Open(filepath.Join(repoRoot, ".stomper", "events.db"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: event log unavailable: %v\n", err)
		} else {
			defer func() { _ = eventLog.Close() }()
			reporter = events.MultiReporter{console, storage.NewReporter(eventLog)}
		}

		orch, err := session.New(ctx, repoRoot, cfg, reporter)
		if err != nil {
			return err
		}

		state, err := orch.Run(ctx)
		if err != nil {
			return err
		}

		return finishRun(state, cfg.DryRun)
	},
}

// errSessionFailed maps a failed session onto a non-zero exit without
// printing a redundant error; the summary already told the story. It
// must be returned, not exited on, so deferred cleanup (the event log)
// still runs.
var errSessionFailed = errors.New("session failed")

// finishRun prints the end-of-session report and converts a non-completed
// status into the exit-code sentinel.
func finishRun(state *types.SessionState, dryRun bool) error {
	printSummary(state, dryRun)
	if state.Status != types.SessionStatusCompleted {
		return errSessionFailed
	}
	return nil
}

func init() {
	runCmd.Flags().StringSlice("tools", nil, "Analysis tools to run (ruff, mypy)")
	runCmd.Flags().String("strategy", "", "Findings per prompt: all_errors, batch_by_code, one_at_a_time")
	runCmd.Flags().Int("max-attempts", 0, "Max assistant attempts per file")
	runCmd.Flags().Int("max-errors", 0, "Cap on findings processed this session (0 = no cap)")
	runCmd.Flags().Int("max-parallel", 0, "Files processed concurrently (1-16)")
	runCmd.Flags().Bool("no-tests", false, "Skip the sandbox test gate")
	runCmd.Flags().String("test-mode", "", "Test gate mode: full, quick, final, none")
	runCmd.Flags().String("test-command", "", "Override the test runner (default pytest)")
	runCmd.Flags().Bool("dry-run", false, "Collect and report findings without fixing")
	runCmd.Flags().Bool("continue-on-error", true, "Keep going when one file fails")
	runCmd.Flags().Bool("no-isolation", false, "Fix in the main tree instead of sandboxes (trusted assistants only)")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays explicitly-set flags onto the file config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, args []string) {
	if len(args) > 0 {
		cfg.Files = args
	}
	if cmd.Flags().Changed("tools") {
		cfg.EnabledTools, _ = cmd.Flags().GetStringSlice("tools")
	}
	if cmd.Flags().Changed("strategy") {
		strategy, _ := cmd.Flags().GetString("strategy")
		cfg.ProcessingStrategy = types.ProcessingStrategy(strategy)
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.MaxAttemptsPerFile, _ = cmd.Flags().GetInt("max-attempts")
	}
	if cmd.Flags().Changed("max-errors") {
		cfg.MaxErrors, _ = cmd.Flags().GetInt("max-errors")
	}
	if cmd.Flags().Changed("max-parallel") {
		cfg.MaxParallelFiles, _ = cmd.Flags().GetInt("max-parallel")
	}
	if cmd.Flags().Changed("no-tests") {
		noTests, _ := cmd.Flags().GetBool("no-tests")
		cfg.RunTests = !noTests
	}
	if cmd.Flags().Changed("test-mode") {
		mode, _ := cmd.Flags().GetString("test-mode")
		cfg.TestMode = types.TestMode(mode)
	}
	if cmd.Flags().Changed("test-command") {
		cfg.TestCommand, _ = cmd.Flags().GetString("test-command")
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	if cmd.Flags().Changed("continue-on-error") {
		cfg.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}
	if cmd.Flags().Changed("no-isolation") {
		noIsolation, _ := cmd.Flags().GetBool("no-isolation")
		cfg.UseIsolation = !noIsolation
	}
}

// printSummary renders the end-of-session report.
func printSummary(state *types.SessionState, dryRun bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println()
	if dryRun {
		fmt.Printf("%s\n", color.YellowString("DRY RUN - no files were modified"))
		for _, fw := range state.Files {
			fmt.Printf("  %s: %d finding(s)\n", fw.Path, len(fw.Findings))
		}
		return
	}

	fmt.Printf("Session %s\n", state.ID)
	fmt.Printf("  Fixed:  %d file(s), %d finding(s)\n", len(state.SuccessfulFiles), state.TotalErrorsFixed)
	for _, path := range state.SuccessfulFiles {
		fmt.Printf("    %s %s\n", green("✓"), path)
	}
	if len(state.FailedFiles) > 0 {
		fmt.Printf("  Failed: %d file(s)\n", len(state.FailedFiles))
		for _, path := range state.FailedFiles {
			fmt.Printf("    %s %s\n", red("✗"), path)
		}
	}

	if state.Status == types.SessionStatusCompleted {
		fmt.Printf("\n%s Session completed\n", green("✓"))
	} else {
		fmt.Printf("\n%s Session failed", red("✗"))
		if state.FinalError != "" {
			fmt.Printf(": %s", state.FinalError)
		}
		fmt.Println()
	}
}
