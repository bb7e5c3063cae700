package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stomperdev/stomper/internal/learning"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	Long: `Show what the adaptive learning store has accumulated for this
repository: overall success rate and the rule codes that have been
hardest and easiest to fix.

Examples:
  stomper stats
  stomper stats --repo /path/to/repo`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, err := resolveRepoRoot()
		if err != nil {
			return err
		}

		// Read-only view: never write the store back from here.
		mapper, err := learning.NewMapper(learning.Config{
			RepoRoot:        repoRoot,
			DisableAutoSave: true,
		})
		if err != nil {
			return err
		}

		stats := mapper.Statistics()

		if stats.TotalAttempts == 0 {
			fmt.Println("No fixing attempts recorded yet.")
			return nil
		}

		fmt.Printf("Learning data: %s\n\n", mapper.Path())
		fmt.Printf("  Patterns tracked:  %d\n", stats.PatternCount)
		fmt.Printf("  Total attempts:    %d\n", stats.TotalAttempts)
		fmt.Printf("  Total successes:   %d\n", stats.TotalSuccesses)
		fmt.Printf("  Overall rate:      %.0f%%\n", stats.OverallSuccessRate*100)

		if len(stats.MostDifficult) > 0 {
			fmt.Printf("\n%s\n", color.RedString("Most difficult patterns:"))
			for _, p := range stats.MostDifficult {
				fmt.Printf("  %-24s %3.0f%% over %d attempt(s)\n", p.Key, p.SuccessRate*100, p.Attempts)
			}
		}
		if len(stats.MostSuccessful) > 0 {
			fmt.Printf("\n%s\n", color.GreenString("Most successful patterns:"))
			for _, p := range stats.MostSuccessful {
				fmt.Printf("  %-24s %3.0f%% over %d attempt(s)\n", p.Key, p.SuccessRate*100, p.Attempts)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
