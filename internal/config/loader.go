package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/nanny/internal/sigrelay"
)

// Load reads and parses daemon configuration from a YAML file, applies
// defaults and validates it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "nanny"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8530"
	}
}

// Validate checks the configuration for caller bugs before anything is
// spawned.
func Validate(cfg *Config) error {
	if cfg.Child.Executable == "" {
		return fmt.Errorf("child.executable is required")
	}
	if cfg.Child.ConfigFile == "" && cfg.Child.ConfigInline == nil {
		return fmt.Errorf("one of child.config_file or child.config_inline is required")
	}
	if cfg.Child.ConfigFile != "" && cfg.Child.ConfigInline != nil {
		return fmt.Errorf("child.config_file and child.config_inline are mutually exclusive")
	}
	for _, name := range cfg.Child.TerminationEvents {
		if !sigrelay.KnownEvent(name) {
			return fmt.Errorf("unknown termination event %q in child.termination_events", name)
		}
	}
	return nil
}
