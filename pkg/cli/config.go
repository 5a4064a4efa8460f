package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.duckframe/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is a named set of tables and stores registered before each command.
// Access keys are never read from the profile; they come from the
// environment.
type Profile struct {
	Output   string            `yaml:"output,omitempty"`
	Region   string            `yaml:"region,omitempty"`
	Endpoint string            `yaml:"endpoint,omitempty"`
	URLStyle string            `yaml:"url-style,omitempty"`
	Tables   map[string]string `yaml:"tables,omitempty"` // table name -> CSV path
	Buckets  []string          `yaml:"buckets,omitempty"`
}

// TableNames returns the profile's table names in sorted order.
func (p Profile) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for name := range p.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveProfile returns the profile named by override, or the current profile
// when override is empty. Naming a profile that does not exist is an error; a
// missing current profile yields an empty one.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	if override != "" {
		p, ok := c.Profiles[override]
		if !ok {
			return Profile{}, fmt.Errorf("profile %q not found", override)
		}
		return p, nil
	}
	return c.Profiles[c.CurrentProfile], nil
}

// ConfigDir returns the path to ~/.duckframe/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".duckframe")
}

// ConfigPath returns the path to ~/.duckframe/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads the config file at path. A missing file yields an
// empty config.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}
