package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadAdvice reads the optional per-rule advice file at
// {repoRoot}/.stomper/advice.yml. The file maps rule codes to
// human-written fixing advice that the prompt builder embeds for
// Detailed and Verbose prompts. A missing file yields an empty map.
func LoadAdvice(repoRoot string) (map[string]string, error) {
	path := filepath.Join(repoRoot, ".stomper", "advice.yml")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read advice file: %w", err)
	}

	advice := make(map[string]string)
	if err := yaml.Unmarshal(raw, &advice); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return advice, nil
}
