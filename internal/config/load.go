package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied before validation.
const (
	DefaultDelayMs        = 1000
	DefaultTimeoutSeconds = 30
	DefaultMode           = "sequential"
)

// LoadConfig reads, parses, and validates the workspace file.
func LoadConfig(filename string) (*Config, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	cfg, err := Parse(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load '%s': %w", filename, err)
	}
	if abs, err := filepath.Abs(filepath.Dir(filename)); err == nil {
		cfg.BaseDir = abs
	} else {
		cfg.BaseDir = filepath.Dir(filename)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates workspace YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := ValidateConfigManually(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset settings.
func ApplyDefaults(cfg *Config) {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Run.Mode == "" {
		cfg.Run.Mode = DefaultMode
	}
	if cfg.Run.DelayMs == nil {
		d := DefaultDelayMs
		cfg.Run.DelayMs = &d
	}
	if cfg.HTTP.TimeoutSeconds == 0 {
		cfg.HTTP.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

// Delay returns the configured inter-request delay in milliseconds.
func (r RunConfig) Delay() int {
	if r.DelayMs == nil {
		return DefaultDelayMs
	}
	return *r.DelayMs
}

// ResolvePath returns p relative to the workspace directory unless absolute.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// FindRequest returns the request named name.
func (c *Config) FindRequest(name string) (*RequestConfig, bool) {
	for i := range c.Requests {
		if c.Requests[i].Name == name {
			return &c.Requests[i], true
		}
	}
	return nil, false
}
