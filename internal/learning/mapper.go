// Package learning accumulates per-(tool, rule-code) fixing outcomes
// across sessions and turns that history into prompting-strategy
// recommendations. The store is a single JSON document under the main
// repository root, written via temp-file-plus-rename after every
// recorded attempt.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/stomperdev/stomper/internal/events"
)

// SchemaVersion is the learning document schema written by this build.
const SchemaVersion = "1.0.0"

// topN bounds the most-difficult / most-successful lists in Statistics.
const topN = 5

// Config holds configuration for the mapper.
type Config struct {
	// RepoRoot is the main repository root. The store file lives at
	// {RepoRoot}/.stomper/learning_data.json and must never resolve
	// inside a sandbox.
	RepoRoot string

	// DisableAutoSave turns off the durable write after every Record.
	DisableAutoSave bool

	// Reporter receives warnings for recovered errors; nil means silent
	Reporter events.Reporter
}

// Mapper is the adaptive learning store. All methods are safe for
// concurrent use; Record calls from different sub-workflows are
// linearized by an internal lock.
type Mapper struct {
	mu       sync.Mutex
	path     string
	data     *LearningData
	autoSave bool
	readOnly bool
	reporter events.Reporter
}

// NewMapper loads (or initializes) the learning store for a repository.
// A missing file yields an empty store; a malformed file yields an empty
// store plus a warning. A document with a newer major schema version is
// kept read-only so it is never overwritten by an older writer.
func NewMapper(cfg Config) (*Mapper, error) {
	if cfg.RepoRoot == "" {
		return nil, fmt.Errorf("RepoRoot cannot be empty")
	}

	abs, err := filepath.Abs(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo root: %w", err)
	}
	if insideSandbox(abs) {
		return nil, fmt.Errorf("learning store must be rooted at the main repository, not a sandbox: %s", abs)
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = events.NopReporter{}
	}

	m := &Mapper{
		path:     filepath.Join(abs, ".stomper", "learning_data.json"),
		autoSave: !cfg.DisableAutoSave,
		reporter: reporter,
	}
	m.data = m.load()

	return m, nil
}

// insideSandbox reports whether a path resolves under a sandbox
// directory tree.
func insideSandbox(path string) bool {
	normalized := filepath.ToSlash(path)
	return strings.Contains(normalized+"/", "/.stomper/sandboxes/")
}

// Path returns the on-disk location of the store file.
func (m *Mapper) Path() string {
	return m.path
}

// load reads the store file tolerantly.
func (m *Mapper) load() *LearningData {
	empty := &LearningData{
		Version:  SchemaVersion,
		Patterns: make(map[string]*ErrorPattern),
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.warn(fmt.Sprintf("failed to read learning data, starting empty: %v", err))
		}
		return empty
	}

	var data LearningData
	if err := json.Unmarshal(raw, &data); err != nil {
		m.warn(fmt.Sprintf("malformed learning data, starting empty: %v", err))
		return empty
	}
	if data.Patterns == nil {
		data.Patterns = make(map[string]*ErrorPattern)
	}

	switch compareMajor(data.Version, SchemaVersion) {
	case 0:
		// Same major: accept, ignore unknown fields (json does).
	case 1:
		// Document written by a newer major. Refuse to downgrade it:
		// keep it readable but never write it back.
		m.readOnly = true
		m.warn(fmt.Sprintf("learning data schema %s is newer than supported %s; store is read-only",
			data.Version, SchemaVersion))
	default:
		m.warn(fmt.Sprintf("learning data schema %s is unsupported, starting empty", data.Version))
		return empty
	}

	return &data
}

// compareMajor compares the major components of two "x.y.z" versions.
// Returns -1, 0, or 1; an unparseable version compares as -1.
func compareMajor(version, reference string) int {
	v := "v" + version
	r := "v" + reference
	if !semver.IsValid(v) {
		return -1
	}
	return semver.Compare(semver.Major(v), semver.Major(r))
}

// patternKey builds the canonical "{tool}:{code}" key.
func patternKey(tool, code string) string {
	return tool + ":" + code
}

// Record registers the outcome of one fixing attempt and, unless
// auto-save is disabled, writes the store durably. Write failures are
// reported as warnings and never propagated.
func (m *Mapper) Record(tool, code string, outcome Outcome, strategy Strategy, file string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := patternKey(tool, code)
	pattern, ok := m.data.Patterns[key]
	if !ok {
		pattern = &ErrorPattern{}
		m.data.Patterns[key] = pattern
	}

	now := time.Now()
	pattern.recordAttempt(outcome, strategy, file, now)

	m.data.TotalAttempts++
	if outcome == OutcomeSuccess {
		m.data.TotalSuccesses++
	}
	m.data.LastUpdated = now

	if m.autoSave {
		if err := m.saveLocked(); err != nil {
			m.warn(fmt.Sprintf("failed to save learning data: %v", err))
		}
	}
}

// Adapt recommends a strategy for the next prompt.
//
// Decision rules, in order: an unknown or empty pattern gets Normal with
// no extras; a difficult pattern (success rate < 50% with at least 3
// attempts) gets Detailed escalated by retryCount, examples, history,
// and a suggested approach; a pattern with success rate >= 80% gets
// Minimal; everything else gets Normal, with examples when the rate is
// below 60%.
func (m *Mapper) Adapt(tool, code string, retryCount int) AdaptiveStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()

	pattern, ok := m.data.Patterns[patternKey(tool, code)]
	if !ok || pattern.TotalAttempts == 0 {
		return AdaptiveStrategy{Verbosity: StrategyNormal}
	}

	rate := pattern.SuccessRate()

	if rate < 0.5 && pattern.TotalAttempts >= 3 {
		rec := AdaptiveStrategy{
			Verbosity:       escalate(StrategyDetailed, retryCount),
			IncludeExamples: true,
			IncludeHistory:  true,
		}
		if best := pattern.mostSuccessfulStrategy(); best != "" {
			rec.SuggestedApproach = fmt.Sprintf(
				"the %s strategy has resolved %s most often; start from it", best, patternKey(tool, code))
		}
		return rec
	}

	if rate >= 0.8 {
		return AdaptiveStrategy{Verbosity: StrategyMinimal}
	}

	return AdaptiveStrategy{
		Verbosity:       StrategyNormal,
		IncludeExamples: rate < 0.6,
	}
}

// Fallback returns the next strategy to try after a failure: first any
// historically successful strategy not already tried, then the ladder
// from Minimal upward skipping already-failed entries. The second return
// is false when the ladder is exhausted.
func (m *Mapper) Fallback(tool, code string, alreadyFailed []Strategy) (Strategy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pattern := m.data.Patterns[patternKey(tool, code)]
	if pattern != nil {
		for _, s := range ladder {
			if containsStrategy(pattern.SuccessfulStrategies, s) && !containsStrategy(alreadyFailed, s) {
				return s, true
			}
		}
	}

	for _, s := range ladder {
		if !containsStrategy(alreadyFailed, s) {
			return s, true
		}
	}

	return "", false
}

// SuccessRate returns the success rate for a pattern, zero when unknown.
func (m *Mapper) SuccessRate(tool, code string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	pattern, ok := m.data.Patterns[patternKey(tool, code)]
	if !ok {
		return 0
	}
	return pattern.SuccessRate()
}

// Statistics summarizes the store: overall rate, totals, and the top
// most-difficult and most-successful patterns.
func (m *Mapper) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{
		TotalAttempts:  m.data.TotalAttempts,
		TotalSuccesses: m.data.TotalSuccesses,
		PatternCount:   len(m.data.Patterns),
	}
	if stats.TotalAttempts > 0 {
		stats.OverallSuccessRate = float64(stats.TotalSuccesses) / float64(stats.TotalAttempts)
	}

	summaries := make([]PatternSummary, 0, len(m.data.Patterns))
	for key, pattern := range m.data.Patterns {
		summaries = append(summaries, PatternSummary{
			Key:         key,
			Attempts:    pattern.TotalAttempts,
			SuccessRate: pattern.SuccessRate(),
		})
	}

	byDifficulty := make([]PatternSummary, len(summaries))
	copy(byDifficulty, summaries)
	sort.Slice(byDifficulty, func(i, j int) bool {
		if byDifficulty[i].SuccessRate != byDifficulty[j].SuccessRate {
			return byDifficulty[i].SuccessRate < byDifficulty[j].SuccessRate
		}
		return byDifficulty[i].Key < byDifficulty[j].Key
	})
	stats.MostDifficult = topOf(byDifficulty)

	bySuccess := summaries
	sort.Slice(bySuccess, func(i, j int) bool {
		if bySuccess[i].SuccessRate != bySuccess[j].SuccessRate {
			return bySuccess[i].SuccessRate > bySuccess[j].SuccessRate
		}
		return bySuccess[i].Key < bySuccess[j].Key
	})
	stats.MostSuccessful = topOf(bySuccess)

	return stats
}

func topOf(summaries []PatternSummary) []PatternSummary {
	if len(summaries) > topN {
		return summaries[:topN]
	}
	return summaries
}

// Save writes the store durably. Called at session teardown; Record
// already saves after every attempt when auto-save is on.
func (m *Mapper) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

// saveLocked writes the document via temp-file-plus-rename so the
// on-disk file always reflects a consistent prefix of the update
// sequence. Caller must hold m.mu.
func (m *Mapper) saveLocked() error {
	if m.readOnly {
		return fmt.Errorf("learning store is read-only (newer schema on disk)")
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal learning data: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".learning_data-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (m *Mapper) warn(msg string) {
	m.reporter.Report(context.Background(), events.NewWarning("", "", msg))
}
