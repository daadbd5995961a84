package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile bundles the assistant settings that are usually tuned together.
// Empty fields leave the configured values in place.
type Profile struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
	MaxTurns     int      `yaml:"max_turns"`
	TopicGuard   *bool    `yaml:"topic_guard"`
}

// LoadProfile reads an agent profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if p.MaxTurns < 0 {
		return nil, fmt.Errorf("profile %s: max_turns must not be negative", path)
	}

	return &p, nil
}
