package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stomperdev/stomper/internal/events"
	"github.com/stomperdev/stomper/internal/sandbox"
	"github.com/stomperdev/stomper/internal/storage"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Cleanup and maintenance commands",
	Long:  `Commands for removing stale sandboxes and old event-log data.`,
}

var cleanupSandboxesCmd = &cobra.Command{
	Use:   "sandboxes",
	Short: "Remove stale sandbox worktrees",
	Long: `Remove sandbox worktrees and branches left behind by crashed or
interrupted sessions. No session should be running when this is used;
a running session cleans up after itself.

Examples:
  stomper cleanup sandboxes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, err := resolveRepoRoot()
		if err != nil {
			return err
		}

		mgr, err := sandbox.NewManager(sandbox.Config{
			RepoRoot: repoRoot,
			Reporter: events.NewConsoleReporter(cmd.OutOrStdout(), verboseFlag),
		})
		if err != nil {
			return err
		}

		if err := mgr.CleanupStale(context.Background()); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Stale sandboxes removed\n", green("✓"))
		return nil
	},
}

var cleanupEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Purge old session events",
	Long: `Delete events older than the retention period from the persistent
event log.

Examples:
  stomper cleanup events                     # Purge events older than 30 days
  stomper cleanup events --retention-days 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		retentionDays, _ := cmd.Flags().GetInt("retention-days")

		repoRoot, err := resolveRepoRoot()
		if err != nil {
			return err
		}

		eventLog, err := storage.Open(filepath.Join(repoRoot, ".stomper", "events.db"))
		if err != nil {
			return err
		}
		defer func() { _ = eventLog.Close() }()

		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		deleted, err := eventLog.PurgeBefore(context.Background(), cutoff)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Purged %d event(s) older than %d day(s)\n", green("✓"), deleted, retentionDays)
		return nil
	},
}

func init() {
	cleanupEventsCmd.Flags().Int("retention-days", 30, "Delete events older than N days")

	cleanupCmd.AddCommand(cleanupSandboxesCmd)
	cleanupCmd.AddCommand(cleanupEventsCmd)
	rootCmd.AddCommand(cleanupCmd)
}
