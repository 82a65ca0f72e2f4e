package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load builds a validated Config. When path names an existing file it is
// parsed as YAML (after {{.VAR}} environment expansion) and merged over the
// built-in defaults; when path is empty or the file is absent, the defaults
// are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	user, found, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if found {
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
		slog.Info("Loaded configuration file", "path", path)
	} else if path != "" {
		slog.Info("Configuration file not found, using defaults", "path", path)
	}

	// The postgres backend accepts its connection string from the
	// environment when the file leaves it unset.
	if cfg.Checkpoint.DatabaseURL == "" {
		cfg.Checkpoint.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readFile(path string) (*Config, bool, error) {
	if path == "" {
		return nil, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}

	return &cfg, true, nil
}
