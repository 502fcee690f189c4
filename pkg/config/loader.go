package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Load reads a YAML config file, applying a .env overlay first so that
// environment references inside SetDefaults (API keys, hosts) resolve.
// An empty path returns the fully defaulted configuration.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	if path == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
