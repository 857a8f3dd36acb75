// Package config implements the ~/.faastr/faastrrc file, grounded on
// dsmmcken-dh-cli's internal/config/config.go Load/Save/Get/Set pattern.
// It carries only the settings the CLI layer needs to bootstrap a kernel
// instance: where to look for modules by default, and a simulated CPU count.
// Only the `config` subcommands read these settings; no kernel package
// consumes them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the ~/.faastr/faastrrc file.
type Config struct {
	ModulePath string `toml:"module_path,omitempty" json:"module_path"`
	CPUCount   int    `toml:"cpu_count,omitempty" json:"cpu_count"`
}

// defaultCPUCount matches the single simulated CPU most of this
// implementation's scenarios run on; faastrrc lets a user widen that for a
// multi-context workload.
const defaultCPUCount = 1

// configDirOverride is set by the --config-dir flag or FAASTR_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / FAASTR_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > FAASTR_HOME env > ~/.faastr
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("FAASTR_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".faastr")
	}
	return filepath.Join(home, ".faastr")
}

// Path returns the full path to faastrrc.
func Path() string {
	return filepath.Join(Home(), "faastrrc")
}

// EnsureDir creates the faastr home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(Home(), 0o755)
}

// Load reads faastrrc and returns a Config struct. If the file does not
// exist, it returns a Config carrying defaults (module_path unset, CPUCount
// 1).
func Load() (*Config, error) {
	cfg := &Config{CPUCount: defaultCPUCount}
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading faastrrc: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing faastrrc: %w", err)
	}
	if cfg.CPUCount <= 0 {
		cfg.CPUCount = defaultCPUCount
	}
	return cfg, nil
}

// Save writes the Config struct back to faastrrc.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling faastrrc: %w", err)
	}
	return os.WriteFile(Path(), data, 0o644)
}

// validKeys lists the dot-separated keys usable with Get/Set.
var validKeys = map[string]bool{
	"module_path": true,
	"cpu_count":   true,
}

// Get retrieves a single config value by key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("config: unknown key %q", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	switch key {
	case "module_path":
		return cfg.ModulePath, nil
	case "cpu_count":
		return strconv.Itoa(cfg.CPUCount), nil
	default:
		return "", fmt.Errorf("config: unknown key %q", key)
	}
}

// Set sets a single config value by key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("config: unknown key %q", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	switch key {
	case "module_path":
		cfg.ModulePath = value
	case "cpu_count":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: cpu_count must be a positive integer, got %q", value)
		}
		cfg.CPUCount = n
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return Save(cfg)
}
