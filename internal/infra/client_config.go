package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the marketctl profile: which node to talk to and which
// key to sign with. Flags override every field.
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	KeyPath   string `yaml:"key_path"`
	// Marketplace is the default marketplace address for list/delist/purchase.
	Marketplace string `yaml:"marketplace"`
	Retries     int    `yaml:"retries"`
}

// LoadClientConfig reads a profile. A missing file yields an empty profile.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}
