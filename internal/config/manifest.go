package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PluginManifest lists which plugin key serves which provider ids and
// markets, for deployments that want to enable/disable adapters without
// a rebuild (teacher pattern: internal/config/providers.go's
// YAML-configured per-provider table). The serve command applies only
// Enabled and Markets; Providers and Testnet are parsed but not used,
// so provider ids still come from each Factory's
// ListConfigurableProviders.
type PluginManifest struct {
	Plugins map[string]PluginManifestEntry `yaml:"plugins"`
}

// PluginManifestEntry describes one plugin key's configuration.
type PluginManifestEntry struct {
	Providers []string `yaml:"providers"`
	Markets   []string `yaml:"markets"`
	Enabled   bool     `yaml:"enabled"`
	Testnet   bool     `yaml:"testnet"`
}

// LoadPluginManifest reads and parses a plugin manifest YAML file.
func LoadPluginManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read plugin manifest: %w", err)
	}
	var m PluginManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse plugin manifest: %w", err)
	}
	return &m, nil
}
