// Package gitops is the sole gateway for VCS mutations of the main
// working tree during a session. Patch extraction reads a sandbox;
// apply and commit write the main tree and must be called under the
// session's apply lock.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrPatchExtractFailed is returned when a sandbox diff cannot be produced.
	ErrPatchExtractFailed = errors.New("patch extraction failed")

	// ErrPatchApplyFailed is returned when a patch does not apply cleanly.
	// The main tree is left untouched.
	ErrPatchApplyFailed = errors.New("patch apply failed")

	// ErrCommitFailed is returned when staging or committing fails.
	ErrCommitFailed = errors.New("commit failed")
)

// Broker wraps the git CLI for one repository. The broker never pushes
// to any remote.
type Broker struct {
	gitPath  string
	repoRoot string
}

// NewBroker creates a Broker for the repository at repoRoot.
// It verifies that git is available.
func NewBroker(ctx context.Context, repoRoot string) (*Broker, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "-C", repoRoot, "rev-parse", "--git-dir")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", repoRoot, err)
	}

	return &Broker{gitPath: gitPath, repoRoot: repoRoot}, nil
}

// CurrentCommit returns the hash of HEAD in the main repository.
func (b *Broker) CurrentCommit(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, b.gitPath, "-C", b.repoRoot, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CurrentBranch returns the name of the checked-out branch.
func (b *Broker) CurrentBranch(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, b.gitPath, "-C", b.repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ExtractDiff returns the working-tree changes in a sandbox as a patch
// applicable to the main tree. An empty string means the sandbox is
// unchanged relative to its base.
func (b *Broker) ExtractDiff(ctx context.Context, sandboxPath string) (string, error) {
	cmd := exec.CommandContext(ctx, b.gitPath, "-C", sandboxPath, "diff", "HEAD")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: git diff: %v (%s)", ErrPatchExtractFailed, err,
			strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// ApplyPatch applies a patch to the main working tree. Git's apply is
// all-or-nothing: on failure the tree is left untouched. A --check pass
// runs first so a conflicting patch is rejected before anything runs
// against the real index.
func (b *Broker) ApplyPatch(ctx context.Context, patch string) error {
	if strings.TrimSpace(patch) == "" {
		return fmt.Errorf("%w: empty patch", ErrPatchApplyFailed)
	}

	if err := b.runApply(ctx, patch, true); err != nil {
		return err
	}
	return b.runApply(ctx, patch, false)
}

func (b *Broker) runApply(ctx context.Context, patch string, checkOnly bool) error {
	args := []string{"-C", b.repoRoot, "apply"}
	if checkOnly {
		args = append(args, "--check")
	}

	cmd := exec.CommandContext(ctx, b.gitPath, args...)
	cmd.Stdin = strings.NewReader(patch)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v (output: %s)", ErrPatchApplyFailed, err,
			strings.TrimSpace(string(output)))
	}
	return nil
}

// Commit stages the given paths and records one commit with the supplied
// message on the current branch.
func (b *Broker) Commit(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no paths to stage", ErrCommitFailed)
	}
	if message == "" {
		return fmt.Errorf("%w: commit message is required", ErrCommitFailed)
	}

	addArgs := append([]string{"-C", b.repoRoot, "add", "--"}, paths...)
	addCmd := exec.CommandContext(ctx, b.gitPath, addArgs...)
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: git add: %v (output: %s)", ErrCommitFailed, err,
			strings.TrimSpace(string(output)))
	}

	// -F - takes the message on stdin, which keeps multi-line
	// conventional-commit bodies intact.
	commitCmd := exec.CommandContext(ctx, b.gitPath, "-C", b.repoRoot, "commit", "-F", "-")
	commitCmd.Stdin = strings.NewReader(message)
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: git commit: %v (output: %s)", ErrCommitFailed, err,
			strings.TrimSpace(string(output)))
	}

	return nil
}

// HasChanges reports whether the sandbox working tree differs from its
// base commit.
func (b *Broker) HasChanges(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, b.gitPath, "-C", dir, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(output)) != "", nil
}
