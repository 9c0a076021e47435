// Package config provides configuration loading for the GapDay core.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the sync core configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Remote struct {
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"remote"`

	Autosave struct {
		Debounce      time.Duration `yaml:"debounce"`
		StatusLinger  time.Duration `yaml:"status_linger"`
		RatePerMinute int           `yaml:"rate_per_minute"`
		Burst         int           `yaml:"burst"`
	} `yaml:"autosave"`

	Sync struct {
		DrainInterval time.Duration `yaml:"drain_interval"`
		MaxRetries    int           `yaml:"max_retries"`
	} `yaml:"sync"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{DataDir: "./data"}
	cfg.Remote.BaseURL = "https://api.gapday.app/v1"
	cfg.Remote.RequestTimeout = 15 * time.Second
	cfg.Autosave.Debounce = 1200 * time.Millisecond
	cfg.Autosave.StatusLinger = 3 * time.Second
	cfg.Autosave.RatePerMinute = 12
	cfg.Autosave.Burst = 4
	cfg.Sync.DrainInterval = time.Minute
	cfg.Sync.MaxRetries = 3
	return cfg
}

// Load reads a YAML config file and overlays it onto the defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must not be empty")
	}
	if c.Autosave.Debounce <= 0 {
		return fmt.Errorf("autosave.debounce must be positive")
	}
	if c.Autosave.RatePerMinute <= 0 || c.Autosave.Burst <= 0 {
		return fmt.Errorf("autosave rate limit must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	return nil
}
