package creditledger

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level ledger configuration.
type Config struct {
	Calendar string         `yaml:"calendar"`
	Limits   Limits         `yaml:"limits"`
	Grants   StartingGrants `yaml:"grants"`
	Retry    RetryConfig    `yaml:"retry"`
	Services []ServiceCost  `yaml:"services"`
}

// RetryConfig bounds the retries spent on write conflicts. An absent
// max_retries keeps the ledger default; 0 disables retries.
type RetryConfig struct {
	MaxRetries *uint64       `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("creditledger: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config data.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("creditledger: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("creditledger: config: at least one service is required")
	}

	types := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		if s.Type == "" {
			return fmt.Errorf("creditledger: config: services[%d]: type is required", i)
		}
		if types[s.Type] {
			return fmt.Errorf("creditledger: config: duplicate service type %q", s.Type)
		}
		types[s.Type] = true

		if s.Cost < 0 {
			return fmt.Errorf("creditledger: config: services[%d] (%s): cost must not be negative", i, s.Type)
		}
	}

	if c.Limits.Daily <= 0 {
		return fmt.Errorf("creditledger: config: limits.daily must be positive")
	}
	if c.Limits.Monthly <= 0 {
		return fmt.Errorf("creditledger: config: limits.monthly must be positive")
	}
	if c.Grants.Standard < 0 || c.Grants.Elevated < 0 {
		return fmt.Errorf("creditledger: config: grants must not be negative")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("creditledger: config: retry.base_delay must not be negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// Location resolves the calendar used for window boundaries. Empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Calendar == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Calendar)
	if err != nil {
		return nil, fmt.Errorf("creditledger: config: calendar %q: %w", c.Calendar, err)
	}
	return loc, nil
}

// Catalog builds the immutable cost catalog described by the config.
func (c Config) Catalog() (*Catalog, error) {
	return NewCatalog(c.Services, c.Limits, c.Grants)
}

// Options translates the non-catalog settings into ledger options.
func (c Config) Options() ([]Option, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	opts := []Option{WithPolicy(NewQuotaPolicy(loc))}
	if c.Retry.MaxRetries != nil || c.Retry.BaseDelay > 0 {
		maxRetries := uint64(defaultMaxRetries)
		if c.Retry.MaxRetries != nil {
			maxRetries = *c.Retry.MaxRetries
		}
		opts = append(opts, WithRetry(maxRetries, c.Retry.BaseDelay))
	}
	return opts, nil
}
