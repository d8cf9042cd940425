package config

import (
	"time"
)

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval = "30s"
	DefaultHeartbeatTimeout  = "5s"
)

// HeartbeatConfig holds the router health monitor configuration.
// The monitor polls the router in the background so /v1/health can report
// whether a quorum of responders is reachable before a round is submitted.
type HeartbeatConfig struct {
	// Enabled toggles the background monitor.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Interval is the time between checks.
	// Default: "30s". Minimum: "1s".
	Interval string `yaml:"interval" json:"interval"`

	// Timeout bounds a single check.
	// Default: "5s". Minimum: "100ms".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// SanitizeHeartbeat validates and normalizes heartbeat configuration.
func (cfg *Config) SanitizeHeartbeat() {
	if cfg == nil {
		return
	}

	hb := &cfg.Heartbeat
	if interval, err := time.ParseDuration(hb.Interval); err != nil || interval < time.Second {
		hb.Interval = DefaultHeartbeatInterval
	}
	if timeout, err := time.ParseDuration(hb.Timeout); err != nil || timeout < 100*time.Millisecond {
		hb.Timeout = DefaultHeartbeatTimeout
	}
}

// IntervalDuration returns the parsed check interval.
func (hb HeartbeatConfig) IntervalDuration() time.Duration {
	return mustDuration(hb.Interval, DefaultHeartbeatInterval)
}

// TimeoutDuration returns the parsed check timeout.
func (hb HeartbeatConfig) TimeoutDuration() time.Duration {
	return mustDuration(hb.Timeout, DefaultHeartbeatTimeout)
}
