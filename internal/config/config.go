package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".config/cosmic-ext-quake-terminal"
	DefaultConfigFile = "config.yaml"
)

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "cosmic-ext-quake-terminal", DefaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
}

// LoadConfig loads configuration from the specified path or default location.
// If path is empty, uses GetConfigPath. A missing file is not an error: the
// built-in defaults are returned instead.
// Supports both .yaml and .json extensions
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", "":
		return LoadConfigFromBytes(data, "yaml")
	case ".json":
		return LoadConfigFromBytes(data, "json")
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

// LoadConfigFromBytes loads configuration from raw bytes
// format should be "yaml" or "json"
func LoadConfigFromBytes(data []byte, format string) (*Config, error) {
	var cfg Config

	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Clone returns a deep copy so callers can hold a snapshot safely
func (c *Config) Clone() *Config {
	cp := *c
	cp.Terminal.Args = append([]string{}, c.Terminal.Args...)
	return &cp
}
