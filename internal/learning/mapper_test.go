package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()

	m, err := NewMapper(Config{RepoRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}
	return m
}

func recordN(m *Mapper, tool, code string, outcome Outcome, n int) {
	for i := 0; i < n; i++ {
		m.Record(tool, code, outcome, StrategyNormal, "a.py")
	}
}

func TestNewMapperRejectsSandboxPath(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".stomper", "sandboxes", "sess_a")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	if _, err := NewMapper(Config{RepoRoot: root}); err == nil {
		t.Error("expected error for a repo root inside a sandbox tree")
	}
}

func TestNewMapperMissingFileStartsEmpty(t *testing.T) {
	m := newTestMapper(t)

	stats := m.Statistics()
	if stats.TotalAttempts != 0 || stats.PatternCount != 0 {
		t.Errorf("expected empty store, got %+v", stats)
	}
}

func TestNewMapperMalformedFileStartsEmpty(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".stomper")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "learning_data.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	m, err := NewMapper(Config{RepoRoot: root})
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}
	if m.Statistics().TotalAttempts != 0 {
		t.Error("expected empty store after malformed file")
	}
}

func TestRecordAndSuccessRate(t *testing.T) {
	m := newTestMapper(t)

	recordN(m, "ruff", "E501", OutcomeSuccess, 3)
	recordN(m, "ruff", "E501", OutcomeFailure, 1)

	if rate := m.SuccessRate("ruff", "E501"); rate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", rate)
	}
	if rate := m.SuccessRate("ruff", "F401"); rate != 0 {
		t.Errorf("SuccessRate for unknown pattern = %v, want 0", rate)
	}
}

func TestRecordPartialCountsTotalOnly(t *testing.T) {
	m := newTestMapper(t)

	m.Record("ruff", "E501", OutcomePartial, StrategyNormal, "a.py")

	pattern := m.data.Patterns["ruff:E501"]
	if pattern.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", pattern.TotalAttempts)
	}
	if pattern.Successes != 0 || pattern.Failures != 0 {
		t.Errorf("partial outcome must not count as success or failure: %+v", pattern)
	}
}

func TestRecordHistoryBounded(t *testing.T) {
	m := newTestMapper(t)

	recordN(m, "ruff", "E501", OutcomeFailure, historyLimit+5)

	pattern := m.data.Patterns["ruff:E501"]
	if len(pattern.History) != historyLimit {
		t.Errorf("history length = %d, want %d", len(pattern.History), historyLimit)
	}
	if pattern.TotalAttempts != historyLimit+5 {
		t.Errorf("TotalAttempts = %d, want %d", pattern.TotalAttempts, historyLimit+5)
	}
}

func TestAdapt(t *testing.T) {
	tests := []struct {
		name         string
		successes    int
		failures     int
		retryCount   int
		want         Strategy
		wantExamples bool
		wantHistory  bool
	}{
		{
			name: "unknown pattern gets normal",
			want: StrategyNormal,
		},
		{
			name:         "difficult pattern gets detailed with extras",
			successes:    1,
			failures:     3,
			want:         StrategyDetailed,
			wantExamples: true,
			wantHistory:  true,
		},
		{
			name:         "difficult pattern escalates with retries",
			successes:    0,
			failures:     4,
			retryCount:   1,
			want:         StrategyVerbose,
			wantExamples: true,
			wantHistory:  true,
		},
		{
			name:      "easy pattern gets minimal",
			successes: 8,
			failures:  1,
			want:      StrategyMinimal,
		},
		{
			name:         "middling pattern below 60 percent gets normal with examples",
			successes:    1,
			failures:     1,
			want:         StrategyNormal,
			wantExamples: true,
		},
		{
			name:      "middling pattern above 60 percent gets plain normal",
			successes: 7,
			failures:  3,
			want:      StrategyNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t)
			recordN(m, "ruff", "E501", OutcomeSuccess, tt.successes)
			recordN(m, "ruff", "E501", OutcomeFailure, tt.failures)

			rec := m.Adapt("ruff", "E501", tt.retryCount)
			if rec.Verbosity != tt.want {
				t.Errorf("Verbosity = %s, want %s", rec.Verbosity, tt.want)
			}
			if rec.IncludeExamples != tt.wantExamples {
				t.Errorf("IncludeExamples = %v, want %v", rec.IncludeExamples, tt.wantExamples)
			}
			if rec.IncludeHistory != tt.wantHistory {
				t.Errorf("IncludeHistory = %v, want %v", rec.IncludeHistory, tt.wantHistory)
			}
		})
	}
}

func TestAdaptSuggestsHistoricallySuccessfulStrategy(t *testing.T) {
	m := newTestMapper(t)

	// One minimal success buried under failures makes the pattern
	// difficult but leaves a known-good strategy.
	m.Record("ruff", "E501", OutcomeSuccess, StrategyMinimal, "a.py")
	recordN(m, "ruff", "E501", OutcomeFailure, 4)

	rec := m.Adapt("ruff", "E501", 0)
	if rec.SuggestedApproach == "" {
		t.Error("expected a suggested approach for a difficult pattern with a past success")
	}
}

func TestFallback(t *testing.T) {
	m := newTestMapper(t)

	// Historically successful strategy comes first.
	m.Record("ruff", "E501", OutcomeSuccess, StrategyDetailed, "a.py")

	next, ok := m.Fallback("ruff", "E501", nil)
	if !ok || next != StrategyDetailed {
		t.Errorf("Fallback = %s, %v; want detailed, true", next, ok)
	}

	// With the successful strategy already tried, the ladder takes over.
	next, ok = m.Fallback("ruff", "E501", []Strategy{StrategyDetailed})
	if !ok || next != StrategyMinimal {
		t.Errorf("Fallback = %s, %v; want minimal, true", next, ok)
	}

	// Exhausted ladder.
	_, ok = m.Fallback("ruff", "E501", ladder)
	if ok {
		t.Error("expected exhausted fallback to return false")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()

	m, err := NewMapper(Config{RepoRoot: root})
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}
	m.Record("ruff", "E501", OutcomeSuccess, StrategyNormal, "a.py")
	m.Record("mypy", "no-untyped-def", OutcomeFailure, StrategyDetailed, "b.py")
	if err := m.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := NewMapper(Config{RepoRoot: root})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	stats := reloaded.Statistics()
	if stats.TotalAttempts != 2 || stats.TotalSuccesses != 1 || stats.PatternCount != 2 {
		t.Errorf("reloaded stats = %+v", stats)
	}
	if rate := reloaded.SuccessRate("ruff", "E501"); rate != 1.0 {
		t.Errorf("reloaded SuccessRate = %v, want 1.0", rate)
	}
}

func TestNewerMajorSchemaIsReadOnly(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".stomper")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	doc := LearningData{
		Version:        "2.0.0",
		Patterns:       map[string]*ErrorPattern{"ruff:E501": {TotalAttempts: 7, Successes: 7}},
		TotalAttempts:  7,
		TotalSuccesses: 7,
		LastUpdated:    time.Now(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path := filepath.Join(dir, "learning_data.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	m, err := NewMapper(Config{RepoRoot: root})
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}

	// Readable...
	if rate := m.SuccessRate("ruff", "E501"); rate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", rate)
	}

	// ...but never written back.
	m.Record("ruff", "E501", OutcomeFailure, StrategyNormal, "a.py")
	if err := m.Save(); err == nil {
		t.Error("expected Save to refuse a read-only store")
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to re-read file: %v", err)
	}
	var reparsed LearningData
	if err := json.Unmarshal(onDisk, &reparsed); err != nil {
		t.Fatalf("on-disk file corrupted: %v", err)
	}
	if reparsed.Version != "2.0.0" || reparsed.TotalAttempts != 7 {
		t.Errorf("read-only store was modified on disk: %+v", reparsed)
	}
}

func TestStatisticsOrdering(t *testing.T) {
	m := newTestMapper(t)

	recordN(m, "ruff", "HARD", OutcomeFailure, 4)
	recordN(m, "ruff", "EASY", OutcomeSuccess, 4)
	recordN(m, "ruff", "MID", OutcomeSuccess, 2)
	recordN(m, "ruff", "MID", OutcomeFailure, 2)

	stats := m.Statistics()
	if stats.PatternCount != 3 {
		t.Fatalf("PatternCount = %d, want 3", stats.PatternCount)
	}
	if stats.MostDifficult[0].Key != "ruff:HARD" {
		t.Errorf("MostDifficult[0] = %s, want ruff:HARD", stats.MostDifficult[0].Key)
	}
	if stats.MostSuccessful[0].Key != "ruff:EASY" {
		t.Errorf("MostSuccessful[0] = %s, want ruff:EASY", stats.MostSuccessful[0].Key)
	}
}

func TestEscalate(t *testing.T) {
	tests := []struct {
		base  Strategy
		steps int
		want  Strategy
	}{
		{StrategyMinimal, 0, StrategyMinimal},
		{StrategyMinimal, 1, StrategyNormal},
		{StrategyDetailed, 1, StrategyVerbose},
		{StrategyDetailed, 5, StrategyVerbose},
		{StrategyVerbose, 1, StrategyVerbose},
		{"bogus", 0, StrategyNormal},
	}

	for _, tt := range tests {
		if got := escalate(tt.base, tt.steps); got != tt.want {
			t.Errorf("escalate(%s, %d) = %s, want %s", tt.base, tt.steps, got, tt.want)
		}
	}
}

func TestConcurrentRecordLinearizes(t *testing.T) {
	m := newTestMapper(t)
	m.autoSave = false

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				m.Record("ruff", "E501", OutcomeSuccess, StrategyNormal, "a.py")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	stats := m.Statistics()
	if stats.TotalAttempts != 400 || stats.TotalSuccesses != 400 {
		t.Errorf("stats = %+v, want 400 attempts and successes", stats)
	}
}
