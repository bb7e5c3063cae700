// Package tools runs static-analysis tools against a working directory
// and normalizes their machine-readable reports into findings.
//
// Tools discover their own configuration from the working directory; the
// adapter only passes the flags needed to produce structured output. A
// non-zero exit with a parseable report is success with findings, not an
// error.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/stomperdev/stomper/internal/types"
)

var (
	// ErrToolNotAvailable is returned when the tool binary is not on PATH.
	ErrToolNotAvailable = errors.New("tool not available")

	// ErrInvocationFailed is returned when the tool exits non-zero and
	// its output cannot be parsed as a report.
	ErrInvocationFailed = errors.New("tool invocation failed")

	// ErrParseFailed is returned when the tool's structured output is
	// malformed.
	ErrParseFailed = errors.New("failed to parse tool output")
)

// Tool is the capability set each analysis tool implements.
type Tool interface {
	// Name returns the tool identifier (e.g., "ruff").
	Name() string

	// Available reports whether the tool binary can be found.
	Available() bool

	// Run executes the tool in dir and returns normalized findings.
	// If files is non-empty, the run is restricted to those paths.
	// An empty result is valid.
	Run(ctx context.Context, dir string, files []string) ([]types.Finding, error)
}

// Registry holds the tools enabled for a session, keyed by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry for the named tools. Unknown names are
// rejected; unavailable binaries are rejected up front so a session never
// starts with a tool it cannot run.
func NewRegistry(names []string) (*Registry, error) {
	known := map[string]Tool{
		"ruff": &RuffTool{},
		"mypy": &MypyTool{},
	}

	r := &Registry{tools: make(map[string]Tool)}
	for _, name := range names {
		tool, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", name)
		}
		if !tool.Available() {
			return nil, fmt.Errorf("%w: %s binary not found on PATH", ErrToolNotAvailable, name)
		}
		r.tools[name] = tool
	}

	return r, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll runs every registered tool against dir and concatenates the
// findings, tools in name order.
func (r *Registry) RunAll(ctx context.Context, dir string, files []string) ([]types.Finding, error) {
	var all []types.Finding
	for _, name := range r.Names() {
		findings, err := r.tools[name].Run(ctx, dir, files)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		all = append(all, findings...)
	}
	return all, nil
}

// binaryAvailable reports whether a binary can be resolved on PATH.
func binaryAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// relPath converts a tool-reported path to a repo-relative one.
// Tools differ on whether they report absolute or relative paths.
func relPath(dir, reported string) string {
	if !filepath.IsAbs(reported) {
		return filepath.ToSlash(reported)
	}
	rel, err := filepath.Rel(dir, reported)
	if err != nil {
		return filepath.ToSlash(reported)
	}
	return filepath.ToSlash(rel)
}
