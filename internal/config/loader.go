package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file. They are read once, when
// the config is loaded at startup.
const (
	EnvControllerEndpoint = "SEALCI_CONTROLLER_ENDPOINT"
	EnvLogLevel           = "SEALBOARD_LOG_LEVEL"
)

// Built-in defaults.
const (
	DefaultTimeout   = "10s"
	DefaultInterval  = "5s"
	DefaultRetention = "5m"
	DefaultAddr      = ":8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Load reads and parses a dashboard configuration from the given YAML file
// path, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./sealboard.yaml, ~/.sealboard/config.yaml.
// When none exists it returns the built-in defaults with environment
// overrides applied.
func LoadDefault() (*Config, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// SearchPaths lists the locations LoadDefault checks, in order.
func SearchPaths() []string {
	candidates := []string{"sealboard.yaml"}
	if user, err := UserPath(); err == nil {
		candidates = append(candidates, user)
	}
	return candidates
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvControllerEndpoint); v != "" {
		cfg.Controller.Endpoint = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// applyDefaults fills every unset field with its built-in default.
func applyDefaults(cfg *Config) {
	if cfg.Controller.Timeout == "" {
		cfg.Controller.Timeout = DefaultTimeout
	}
	if cfg.Polling.Interval == "" {
		cfg.Polling.Interval = DefaultInterval
	}
	if cfg.Polling.Retention == "" {
		cfg.Polling.Retention = DefaultRetention
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = DefaultAddr
	}
	if cfg.Dashboard.ListVerbose == nil {
		v := true
		cfg.Dashboard.ListVerbose = &v
	}
	if cfg.Dashboard.DetailVerbose == nil {
		v := true
		cfg.Dashboard.DetailVerbose = &v
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
