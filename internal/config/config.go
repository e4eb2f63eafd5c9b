// Package config holds the coordinator's process-level configuration,
// loaded once at startup from YAML, in the shape xcherryio's
// config/config.go uses for its own yaml.v3-tagged Config struct.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowmod/coordinator/internal/logging"
)

// Config is the top-level coordinator configuration.
type Config struct {
	// Deadline is how long a PendingModification waits for full
	// acknowledgement before expiring (spec §4.B default: 90s).
	Deadline time.Duration `yaml:"deadline"`

	// PollInterval is how often the coordinator refreshes the
	// pending-modifications gauge.
	PollInterval time.Duration `yaml:"pollInterval"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint, e.g. ":9090". Empty disables the metrics server.
	MetricsAddr string `yaml:"metricsAddr"`

	Logging logging.Config `yaml:"logging"`
	Store   StoreConfig     `yaml:"store"`
}

// StoreConfig describes a diagnostics store backend. service.New does not
// read it: the caller opens the store and passes it to service.New, which
// falls back to an in-memory store when given nil.
type StoreConfig struct {
	// Driver is one of "memory", "postgres", "mysql", "sqlite" (default: memory).
	Driver string `yaml:"driver"`
	// DSN is the driver-specific data source name. Unused for memory.
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Deadline:     90 * time.Second,
		PollInterval: time.Second,
		MetricsAddr:  ":9090",
		Logging:      logging.Config{Level: "info", Encoding: "json"},
		Store:        StoreConfig{Driver: "memory"},
	}
}

// Load reads and parses a YAML config file, filling in defaults for any
// zero-valued field.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Deadline == 0 {
		cfg.Deadline = 90 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	return cfg, nil
}
