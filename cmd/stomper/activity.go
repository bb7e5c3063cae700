package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stomperdev/stomper/internal/events"
	"github.com/stomperdev/stomper/internal/storage"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent session events",
	Long: `Show events from the persistent session event log, oldest first.

Examples:
  stomper activity                      # Last 50 events
  stomper activity --limit 200
  stomper activity --session 20260824-101500-ab12cd34`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		repoRoot, err := resolveRepoRoot()
		if err != nil {
			return err
		}

		eventLog, err := storage.Open(filepath.Join(repoRoot, ".stomper", "events.db"))
		if err != nil {
			return err
		}
		defer func() { _ = eventLog.Close() }()

		list, err := eventLog.GetEvents(context.Background(), events.EventFilter{
			SessionID: sessionID,
			Limit:     limit,
			Latest:    true,
		})
		if err != nil {
			return err
		}

		// The query returns the newest events; display oldest first.
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}

		if len(list) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		for _, event := range list {
			ts := event.Timestamp.Format("2006-01-02 15:04:05")
			marker := "•"
			switch event.Severity {
			case events.SeverityError:
				marker = color.RedString("✗")
			case events.SeverityWarning:
				marker = color.YellowString("!")
			}
			if event.FilePath != "" {
				fmt.Printf("%s %s %-22s [%s] %s\n", ts, marker, event.Type, event.FilePath, event.Message)
			} else {
				fmt.Printf("%s %s %-22s %s\n", ts, marker, event.Type, event.Message)
			}
		}

		return nil
	},
}

func init() {
	activityCmd.Flags().String("session", "", "Show only events from the given session")
	activityCmd.Flags().Int("limit", 50, "Maximum number of events to show (0 = no limit)")

	rootCmd.AddCommand(activityCmd)
}
