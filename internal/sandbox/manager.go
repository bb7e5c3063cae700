// Package sandbox provides isolated, writable working copies of the
// repository via git worktrees. Worktrees share the parent repository's
// object store, so creation is cheap; changes inside a sandbox are
// invisible to other sandboxes and to the main working tree.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stomperdev/stomper/internal/events"
)

// ErrCreateFailed is returned when the VCS cannot create a worktree,
// typically from a conflict, a permission error, or a missing base ref.
var ErrCreateFailed = errors.New("sandbox creation failed")

// Manager handles creation and cleanup of sandboxes.
type Manager interface {
	// Create creates a new sandbox rooted at baseRef. The id must be
	// unique within a session.
	Create(ctx context.Context, id, baseRef string) (*Sandbox, error)

	// Destroy removes the sandbox's worktree and branch. It is
	// idempotent and never fails the workflow: errors are reported as
	// warnings and swallowed. It may be called even if Create partially
	// succeeded.
	Destroy(ctx context.Context, id string)

	// ListActive returns the IDs of sandboxes not yet destroyed.
	// Used for teardown sanity checks.
	ListActive() []string

	// CleanupStale removes leftover sandbox directories from earlier
	// runs. A stale entry on startup is garbage.
	CleanupStale(ctx context.Context) error
}

// Config holds configuration for the sandbox manager.
type Config struct {
	// RepoRoot is the path to the main git repository
	RepoRoot string

	// SessionID scopes this manager's sandboxes; used for reporting
	SessionID string

	// Reporter receives sandbox lifecycle events; nil means silent
	Reporter events.Reporter
}

// manager is the concrete implementation of Manager.
type manager struct {
	config   Config
	root     string
	reporter events.Reporter

	mu     sync.Mutex
	active map[string]*Sandbox
}

// NewManager creates a sandbox manager rooted at
// {repo}/.stomper/sandboxes.
func NewManager(cfg Config) (Manager, error) {
	if cfg.RepoRoot == "" {
		return nil, fmt.Errorf("RepoRoot cannot be empty")
	}
	if err := validateGitRepo(cfg.RepoRoot); err != nil {
		return nil, fmt.Errorf("invalid repo root: %w", err)
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = events.NopReporter{}
	}

	return &manager{
		config:   cfg,
		root:     filepath.Join(cfg.RepoRoot, ".stomper", "sandboxes"),
		reporter: reporter,
		active:   make(map[string]*Sandbox),
	}, nil
}

// Create creates a new sandbox rooted at baseRef.
func (m *manager) Create(ctx context.Context, id, baseRef string) (*Sandbox, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id cannot be empty", ErrCreateFailed)
	}
	if baseRef == "" {
		return nil, fmt.Errorf("%w: baseRef cannot be empty", ErrCreateFailed)
	}

	m.mu.Lock()
	if _, exists := m.active[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: sandbox %s already exists", ErrCreateFailed, id)
	}
	m.mu.Unlock()

	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create sandbox root: %v", ErrCreateFailed, err)
	}

	worktreePath := filepath.Join(m.root, id)
	branch := "sbx/" + id

	if err := addWorktree(ctx, m.config.RepoRoot, worktreePath, branch, baseRef); err != nil {
		// The worktree command can leave a partial directory behind.
		_ = os.RemoveAll(worktreePath)
		pruneWorktrees(ctx, m.config.RepoRoot)
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	sb := &Sandbox{
		ID:      id,
		Path:    worktreePath,
		Branch:  branch,
		BaseRef: baseRef,
		Created: time.Now(),
	}

	m.mu.Lock()
	m.active[id] = sb
	m.mu.Unlock()

	m.reporter.Report(ctx, events.New(events.EventTypeSandboxCreated, m.config.SessionID,
		events.SeverityInfo, fmt.Sprintf("created sandbox %s on %s", id, branch)))

	return sb, nil
}

// Destroy removes the sandbox's worktree and branch, best-effort.
func (m *manager) Destroy(ctx context.Context, id string) {
	m.mu.Lock()
	sb, exists := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()

	worktreePath := filepath.Join(m.root, id)
	branch := "sbx/" + id
	if exists {
		worktreePath = sb.Path
		branch = sb.Branch
	}

	if err := removeWorktree(ctx, m.config.RepoRoot, worktreePath); err != nil {
		m.warn(ctx, fmt.Sprintf("failed to remove worktree %s: %v", id, err))
	}
	if err := deleteBranch(ctx, m.config.RepoRoot, branch); err != nil {
		m.warn(ctx, fmt.Sprintf("failed to delete branch %s: %v", branch, err))
	}

	m.reporter.Report(ctx, events.New(events.EventTypeSandboxDestroyed, m.config.SessionID,
		events.SeverityInfo, fmt.Sprintf("destroyed sandbox %s", id)))
}

// ListActive returns the IDs of sandboxes not yet destroyed, sorted.
func (m *manager) ListActive() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupStale removes sandbox directories left behind by earlier runs.
// Anything under the sandbox root that is not in the active map belongs
// to a dead session.
func (m *manager) CleanupStale(ctx context.Context) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read sandbox root: %w", err)
	}

	m.mu.Lock()
	activeIDs := make(map[string]bool, len(m.active))
	for id := range m.active {
		activeIDs[id] = true
	}
	m.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() || activeIDs[entry.Name()] {
			continue
		}
		stalePath := filepath.Join(m.root, entry.Name())
		if err := removeWorktree(ctx, m.config.RepoRoot, stalePath); err != nil {
			m.warn(ctx, fmt.Sprintf("failed to remove stale sandbox %s: %v", entry.Name(), err))
			continue
		}
		if err := deleteBranch(ctx, m.config.RepoRoot, "sbx/"+entry.Name()); err != nil {
			m.warn(ctx, fmt.Sprintf("failed to delete stale branch sbx/%s: %v", entry.Name(), err))
		}
	}
	pruneWorktrees(ctx, m.config.RepoRoot)

	return nil
}

func (m *manager) warn(ctx context.Context, msg string) {
	m.reporter.Report(ctx, events.NewWarning(m.config.SessionID, "", msg))
}
