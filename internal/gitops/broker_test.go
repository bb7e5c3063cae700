package gitops

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestRepo creates a temporary git repository with one commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v (%s)", args, err, output)
		}
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")

	if err := os.WriteFile(filepath.Join(dir, "a.py"), []byte("import os\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	run("add", "a.py")
	run("commit", "-m", "initial")

	return dir
}

func TestNewBrokerRejectsNonRepo(t *testing.T) {
	if _, err := NewBroker(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error for a directory that is not a git repository")
	}
}

func TestCurrentCommitAndBranch(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	broker, err := NewBroker(ctx, repo)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}

	commit, err := broker.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit failed: %v", err)
	}
	if len(commit) != 40 {
		t.Errorf("commit = %q, want a 40-char hash", commit)
	}

	branch, err := broker.CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch failed: %v", err)
	}
	if branch == "" || branch == "HEAD" {
		t.Errorf("branch = %q", branch)
	}
}

func TestExtractApplyCommitRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	broker, err := NewBroker(ctx, repo)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	before, err := broker.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit failed: %v", err)
	}

	// A second clone stands in for a sandbox worktree.
	sandbox := t.TempDir()
	cloneCmd := exec.Command("git", "clone", repo, sandbox)
	if output, err := cloneCmd.CombinedOutput(); err != nil {
		t.Fatalf("clone failed: %v (%s)", err, output)
	}
	if err := os.WriteFile(filepath.Join(sandbox, "a.py"), []byte("import sys\n"), 0644); err != nil {
		t.Fatalf("failed to modify sandbox file: %v", err)
	}

	changed, err := broker.HasChanges(ctx, sandbox)
	if err != nil {
		t.Fatalf("HasChanges failed: %v", err)
	}
	if !changed {
		t.Fatal("expected sandbox to have changes")
	}

	patch, err := broker.ExtractDiff(ctx, sandbox)
	if err != nil {
		t.Fatalf("ExtractDiff failed: %v", err)
	}
	if !strings.Contains(patch, "import sys") {
		t.Fatalf("patch missing change:\n%s", patch)
	}

	if err := broker.ApplyPatch(ctx, patch); err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(repo, "a.py"))
	if err != nil {
		t.Fatalf("failed to read main tree file: %v", err)
	}
	if string(content) != "import sys\n" {
		t.Errorf("main tree content = %q", content)
	}

	message := "fix(quality): resolve 1 issue in a.py\n\n- F401\n"
	if err := broker.Commit(ctx, []string{"a.py"}, message); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	after, err := broker.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit failed: %v", err)
	}
	if after == before {
		t.Error("expected a new commit on the main branch")
	}

	logCmd := exec.Command("git", "-C", repo, "log", "-1", "--pretty=%B")
	output, err := logCmd.Output()
	if err != nil {
		t.Fatalf("git log failed: %v", err)
	}
	if !strings.Contains(string(output), "fix(quality): resolve 1 issue in a.py") {
		t.Errorf("commit message = %q", output)
	}
	if !strings.Contains(string(output), "- F401") {
		t.Errorf("multi-line body lost: %q", output)
	}
}

func TestApplyPatchRejectsEmptyAndConflicting(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	broker, err := NewBroker(ctx, repo)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}

	if err := broker.ApplyPatch(ctx, "  \n"); !errors.Is(err, ErrPatchApplyFailed) {
		t.Errorf("empty patch: err = %v, want ErrPatchApplyFailed", err)
	}

	// A patch against content the main tree does not have.
	conflicting := `diff --git a/a.py b/a.py
index 0000000..1111111 100644
--- a/a.py
+++ b/a.py
@@ -1 +1 @@
-import json
+import sys
`
	if err := broker.ApplyPatch(ctx, conflicting); !errors.Is(err, ErrPatchApplyFailed) {
		t.Errorf("conflicting patch: err = %v, want ErrPatchApplyFailed", err)
	}

	// The --check pass must have kept the tree untouched.
	content, err := os.ReadFile(filepath.Join(repo, "a.py"))
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(content) != "import os\n" {
		t.Errorf("main tree modified by rejected patch: %q", content)
	}
}

func TestCommitValidation(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	broker, err := NewBroker(ctx, repo)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}

	if err := broker.Commit(ctx, nil, "msg"); !errors.Is(err, ErrCommitFailed) {
		t.Errorf("no paths: err = %v, want ErrCommitFailed", err)
	}
	if err := broker.Commit(ctx, []string{"a.py"}, ""); !errors.Is(err, ErrCommitFailed) {
		t.Errorf("no message: err = %v, want ErrCommitFailed", err)
	}
}
