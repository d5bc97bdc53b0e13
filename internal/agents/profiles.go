package agents

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is a named spawn preset from the workspace profiles file.
type Profile struct {
	Model          string   `yaml:"model"`
	AllowedTools   []string `yaml:"allowedTools"`
	PermissionMode string   `yaml:"permissionMode"`
	SystemPrompt   string   `yaml:"systemPrompt"`
}

// LoadProfiles reads <dir>/.tabhub/profiles.yaml. A missing file is an
// empty profile set, not an error.
func LoadProfiles(dir string) (map[string]Profile, error) {
	path := filepath.Join(dir, ".tabhub", "profiles.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	profiles := make(map[string]Profile)
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}
	return profiles, nil
}
