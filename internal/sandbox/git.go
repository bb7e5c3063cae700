package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// addWorktree creates a git worktree at worktreePath on a new branch
// rooted at baseRef. The base ref is resolved here, at creation time, so
// concurrent sandboxes share the same commit base regardless of what
// happens to the main tree afterwards.
func addWorktree(ctx context.Context, repoRoot, worktreePath, branch, baseRef string) error {
	if _, err := os.Stat(worktreePath); err == nil {
		return fmt.Errorf("worktree path already exists: %s", worktreePath)
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, worktreePath, baseRef)
	cmd.Dir = repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	return nil
}

// removeWorktree removes a git worktree. Falls back to manual removal
// plus prune when the worktree is already broken.
func removeWorktree(ctx context.Context, repoRoot, worktreePath string) error {
	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		// Already gone; prune any dangling metadata.
		pruneWorktrees(ctx, repoRoot)
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", worktreePath, "--force")
	cmd.Dir = repoRoot

	if output, err := cmd.CombinedOutput(); err != nil {
		if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
			return fmt.Errorf("git worktree remove failed (%s) and manual removal failed: %w",
				strings.TrimSpace(string(output)), rmErr)
		}
		pruneWorktrees(ctx, repoRoot)
	}

	return nil
}

// deleteBranch deletes a local branch. A missing branch is not an error;
// Destroy must be idempotent.
func deleteBranch(ctx context.Context, repoRoot, branch string) error {
	check := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	check.Dir = repoRoot
	if err := check.Run(); err != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "branch", "-D", branch)
	cmd.Dir = repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git branch -D failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	return nil
}

// pruneWorktrees clears dangling worktree metadata. Errors are ignored;
// prune is housekeeping.
func pruneWorktrees(ctx context.Context, repoRoot string) {
	cmd := exec.CommandContext(ctx, "git", "worktree", "prune")
	cmd.Dir = repoRoot
	_ = cmd.Run()
}

// validateGitRepo checks that path is a directory containing a git
// repository. Worktrees have a .git file rather than a directory, so
// only existence is checked.
func validateGitRepo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", path)
		}
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("not a git repository (no .git found): %s", path)
		}
		return fmt.Errorf("failed to check for .git: %w", err)
	}

	return nil
}
