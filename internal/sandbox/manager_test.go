package sandbox

import (
	"context"
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

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	run("add", "README.md")
	run("commit", "-m", "initial")

	return dir
}

func headCommit(t *testing.T, repo string) string {
	t.Helper()

	cmd := exec.Command("git", "-C", repo, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		t.Fatalf("rev-parse failed: %v", err)
	}
	return strings.TrimSpace(string(output))
}

func branchExists(t *testing.T, repo, branch string) bool {
	t.Helper()

	cmd := exec.Command("git", "-C", repo, "rev-parse", "--verify", "refs/heads/"+branch)
	return cmd.Run() == nil
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("expected error for empty repo root")
	}
	if _, err := NewManager(Config{RepoRoot: t.TempDir()}); err == nil {
		t.Error("expected error for non-git repo root")
	}
}

func TestCreateAndDestroy(t *testing.T) {
	repo := setupTestRepo(t)
	base := headCommit(t, repo)
	ctx := context.Background()

	mgr, err := NewManager(Config{RepoRoot: repo, SessionID: "sess"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sb, err := mgr.Create(ctx, "sess_app", base)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if sb.Path != filepath.Join(repo, ".stomper", "sandboxes", "sess_app") {
		t.Errorf("Path = %s", sb.Path)
	}
	if sb.Branch != "sbx/sess_app" {
		t.Errorf("Branch = %s", sb.Branch)
	}
	if _, err := os.Stat(filepath.Join(sb.Path, "README.md")); err != nil {
		t.Errorf("sandbox missing checked-out file: %v", err)
	}
	if !branchExists(t, repo, "sbx/sess_app") {
		t.Error("sandbox branch not created")
	}
	if got := mgr.ListActive(); len(got) != 1 || got[0] != "sess_app" {
		t.Errorf("ListActive = %v", got)
	}

	// Changes inside the sandbox must not touch the main tree.
	if err := os.WriteFile(filepath.Join(sb.Path, "README.md"), []byte("changed\n"), 0644); err != nil {
		t.Fatalf("failed to modify sandbox file: %v", err)
	}
	mainContent, err := os.ReadFile(filepath.Join(repo, "README.md"))
	if err != nil {
		t.Fatalf("failed to read main file: %v", err)
	}
	if string(mainContent) != "# Test\n" {
		t.Errorf("main tree modified: %q", mainContent)
	}

	mgr.Destroy(ctx, "sess_app")

	if _, err := os.Stat(sb.Path); !os.IsNotExist(err) {
		t.Error("sandbox directory still present after destroy")
	}
	if branchExists(t, repo, "sbx/sess_app") {
		t.Error("sandbox branch still present after destroy")
	}
	if got := mgr.ListActive(); len(got) != 0 {
		t.Errorf("ListActive after destroy = %v", got)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	repo := setupTestRepo(t)
	base := headCommit(t, repo)
	ctx := context.Background()

	mgr, err := NewManager(Config{RepoRoot: repo})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := mgr.Create(ctx, "dup", base); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := mgr.Create(ctx, "dup", base); err == nil {
		t.Error("expected error for duplicate sandbox id")
	}
}

func TestCreateRejectsBadBaseRef(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mgr, err := NewManager(Config{RepoRoot: repo})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := mgr.Create(ctx, "bad", "0000000000000000000000000000000000000000"); err == nil {
		t.Error("expected error for missing base ref")
	}

	// The failed create must not leave a partial directory behind.
	if _, err := os.Stat(filepath.Join(repo, ".stomper", "sandboxes", "bad")); !os.IsNotExist(err) {
		t.Error("partial sandbox directory left behind")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mgr, err := NewManager(Config{RepoRoot: repo})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	// Destroying a sandbox that never existed must not panic or fail.
	mgr.Destroy(ctx, "ghost")
	mgr.Destroy(ctx, "ghost")
}

func TestCleanupStale(t *testing.T) {
	repo := setupTestRepo(t)
	base := headCommit(t, repo)
	ctx := context.Background()

	// A first manager leaves a sandbox behind, simulating a crash.
	crashed, err := NewManager(Config{RepoRoot: repo, SessionID: "dead"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := crashed.Create(ctx, "dead_app", base); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mgr, err := NewManager(Config{RepoRoot: repo, SessionID: "fresh"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	live, err := mgr.Create(ctx, "fresh_app", base)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := mgr.CleanupStale(ctx); err != nil {
		t.Fatalf("CleanupStale failed: %v", err)
	}

	stale := filepath.Join(repo, ".stomper", "sandboxes", "dead_app")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale sandbox not removed")
	}
	if branchExists(t, repo, "sbx/dead_app") {
		t.Error("stale branch not removed")
	}

	// The live sandbox belongs to this manager and must survive.
	if _, err := os.Stat(live.Path); err != nil {
		t.Errorf("live sandbox removed: %v", err)
	}
}
