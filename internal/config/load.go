package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables that override secrets from the config file.
const (
	EnvBusPassword    = "RELAY_BUS_PASSWORD"
	EnvProviderAPIKey = "ASSEMBLYAI_API_KEY"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
		}
		applyEnv(&base)
		warnings, err := Validate(base)
		if err != nil {
			return Loaded{}, err
		}
		return Loaded{
			Path:   resolvedPath,
			Config: base,
			Warnings: append([]Warning{{
				Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
			}}, warnings...),
			Exists: false,
		}, nil
	}

	cfg, _, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}
	applyEnv(&cfg)
	warnings, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvBusPassword); ok {
		cfg.Bus.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvProviderAPIKey)); v != "" {
		cfg.Provider.APIKey = v
	}
}
