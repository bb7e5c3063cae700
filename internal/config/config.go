// Package config loads stomper's configuration from .stomper.yml at the
// repository root, applies defaults, and validates bounds. Command-line
// flags override file values in cmd/stomper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stomperdev/stomper/internal/types"
)

// Config is the session configuration.
type Config struct {
	// EnabledTools is the set of analysis tools to run
	EnabledTools []string `yaml:"tools"`

	// ProcessingStrategy selects how findings are batched per
	// assistant invocation
	ProcessingStrategy types.ProcessingStrategy `yaml:"processing_strategy"`

	// MaxAttemptsPerFile bounds assistant invocations per file
	MaxAttemptsPerFile int `yaml:"max_attempts_per_file"`

	// MaxErrors caps findings processed per session; zero means no cap
	MaxErrors int `yaml:"max_errors"`

	// MaxParallelFiles bounds concurrent file sub-workflows (1-16)
	MaxParallelFiles int `yaml:"max_parallel_files"`

	// RunTests enables the sandbox test gate
	RunTests bool `yaml:"run_tests"`

	// TestMode selects full, quick, final, or none
	TestMode types.TestMode `yaml:"test_mode"`

	// TestCommand overrides the test runner; empty uses pytest
	TestCommand string `yaml:"test_command"`

	// TestTimeout bounds one test run; zero means no timeout
	TestTimeout time.Duration `yaml:"test_timeout"`

	// ContinueOnError keeps the session going when one file fails
	ContinueOnError bool `yaml:"continue_on_error"`

	// UseIsolation runs fixes in sandboxes; disabling it is only safe
	// with trusted assistants
	UseIsolation bool `yaml:"use_isolation"`

	// Assistant configures the fixing assistant subprocess
	Assistant AssistantConfig `yaml:"assistant"`

	// Files restricts processing to the given repo-relative paths
	Files []string `yaml:"files"`

	// DryRun collects and reports findings without fixing anything
	DryRun bool `yaml:"dry_run"`
}

// AssistantConfig configures the assistant subprocess.
type AssistantConfig struct {
	// Type is "claude" or "generic"
	Type string `yaml:"type"`

	// Command overrides the assistant binary
	Command string `yaml:"command"`

	// ExtraArgs are appended to the assistant command line
	ExtraArgs []string `yaml:"extra_args"`

	// Timeout bounds one invocation (default 5m)
	Timeout time.Duration `yaml:"timeout"`

	// SpawnsPerMinute paces invocations; zero disables pacing
	SpawnsPerMinute int `yaml:"spawns_per_minute"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		EnabledTools:       []string{"ruff"},
		ProcessingStrategy: types.ProcessAllErrors,
		MaxAttemptsPerFile: 3,
		MaxParallelFiles:   1,
		RunTests:           true,
		TestMode:           types.TestModeFull,
		ContinueOnError:    true,
		UseIsolation:       true,
		Assistant: AssistantConfig{
			Type:    "claude",
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads .stomper.yml from repoRoot, falling back to defaults when
// the file is absent. A malformed file is an error; silently ignoring a
// typo'd config does more harm than failing fast.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(repoRoot, ".stomper.yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks bounds and closed sets.
func (c *Config) Validate() error {
	if len(c.EnabledTools) == 0 {
		return fmt.Errorf("at least one tool must be enabled")
	}
	if c.MaxAttemptsPerFile < 1 {
		return fmt.Errorf("max_attempts_per_file must be at least 1, got %d", c.MaxAttemptsPerFile)
	}
	if c.MaxParallelFiles < 1 || c.MaxParallelFiles > 16 {
		return fmt.Errorf("max_parallel_files must be in [1,16], got %d", c.MaxParallelFiles)
	}
	if !c.UseIsolation && c.MaxParallelFiles > 1 {
		return fmt.Errorf("max_parallel_files must be 1 when isolation is off")
	}
	switch c.ProcessingStrategy {
	case types.ProcessAllErrors, types.ProcessBatchByCode, types.ProcessOneAtATime:
	default:
		return fmt.Errorf("unknown processing_strategy: %s", c.ProcessingStrategy)
	}
	switch c.TestMode {
	case types.TestModeFull, types.TestModeQuick, types.TestModeFinal, types.TestModeNone:
	default:
		return fmt.Errorf("unknown test_mode: %s", c.TestMode)
	}
	switch c.Assistant.Type {
	case "claude", "generic", "":
	default:
		return fmt.Errorf("unknown assistant type: %s", c.Assistant.Type)
	}
	if c.Assistant.Type == "generic" && c.Assistant.Command == "" {
		return fmt.Errorf("generic assistant requires a command")
	}
	return nil
}
