package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stomperdev/stomper/internal/version"
)

var (
	repoFlag    string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "stomper",
	Short: "Automated fixing of static-analysis findings",
	Long: `Stomper runs static-analysis tools (ruff, mypy) against a repository,
drives an AI code-fixing assistant inside isolated git worktrees to
resolve the findings, verifies the fixes, gates them on tests, and
lands each fixed file as one commit on the main branch.

Fixing outcomes are remembered per (tool, rule-code) pattern across
sessions and used to adapt prompting strategy over time.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository root (defaults to the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show routine progress events")
}

// resolveRepoRoot returns the absolute repository root from --repo or
// the current directory.
func resolveRepoRoot() (string, error) {
	root := repoFlag
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository root: %w", err)
	}
	return abs, nil
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if errors.Is(err, errSessionFailed) {
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
