package config

import "time"

// Config is the top-level dashboard configuration parsed from YAML.
type Config struct {
	Controller Controller `yaml:"controller"`
	Polling    Polling    `yaml:"polling"`
	Dashboard  Dashboard  `yaml:"dashboard"`
	Log        Log        `yaml:"log"`
}

// Controller locates the SealCI controller API.
type Controller struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"` // per-request timeout, e.g. "10s"
}

// Polling controls the automatic re-fetch cadence.
type Polling struct {
	Interval string `yaml:"interval"`
	// Retention is how long a result nobody is watching stays cached.
	Retention string `yaml:"retention"`
}

// Dashboard configures the web UI.
type Dashboard struct {
	Addr          string `yaml:"addr"`
	ListVerbose   *bool  `yaml:"list_verbose"`
	DetailVerbose *bool  `yaml:"detail_verbose"`
}

// Log configures the zerolog logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// TimeoutDuration returns the parsed controller timeout, or zero if it does
// not parse. Call Validate first to surface bad values.
func (c Controller) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// IntervalDuration returns the parsed polling interval, or zero if it does
// not parse.
func (p Polling) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(p.Interval)
	return d
}

// RetentionDuration returns the parsed retention period, or zero if it does
// not parse.
func (p Polling) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(p.Retention)
	return d
}

// ListVerboseOrDefault reports whether list queries request nested actions.
func (d Dashboard) ListVerboseOrDefault() bool {
	return d.ListVerbose == nil || *d.ListVerbose
}

// DetailVerboseOrDefault reports whether detail queries request nested actions.
func (d Dashboard) DetailVerboseOrDefault() bool {
	return d.DetailVerbose == nil || *d.DetailVerbose
}
