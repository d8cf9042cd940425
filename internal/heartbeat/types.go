// Package heartbeat monitors the responder router in the background.
// It tracks whether a quorum of responders is reachable so operators see
// degraded conditions before rounds start falling back to synthetic replies.
package heartbeat

import (
	"time"
)

// Status is the router health as seen by the monitor.
type Status string

const (
	// StatusUnknown is reported before the first check completes.
	StatusUnknown Status = "unknown"

	// StatusHealthy means the router is reachable with at least a quorum of responders.
	StatusHealthy Status = "healthy"

	// StatusDegraded means the router is reachable but lists fewer responders than the quorum.
	StatusDegraded Status = "degraded"

	// StatusUnavailable means the router is not reachable or not configured.
	StatusUnavailable Status = "unavailable"
)

// HealthStatus is the result of one check.
type HealthStatus struct {
	Status Status `json:"status"`

	// LastCheck is when this status was recorded.
	LastCheck time.Time `json:"last_check"`

	// ResponseTime is the time taken by the check.
	ResponseTime time.Duration `json:"response_time"`

	// Responders is the number of responders the router listed.
	Responders int `json:"responders"`

	// Quorum is the responder count required for StatusHealthy.
	Quorum int `json:"quorum"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Config contains configuration for the monitor.
type Config struct {
	// Interval is the time between checks.
	Interval time.Duration

	// Timeout bounds a single check.
	Timeout time.Duration

	// Quorum is the minimum responder count for a healthy router.
	Quorum int
}

// DefaultConfig returns a 30s interval, 5s timeout and a quorum of 3.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Quorum:   3,
	}
}

func (c Config) sanitized() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Quorum <= 0 {
		c.Quorum = d.Quorum
	}
	return c
}

// Stats contains statistics about the monitor.
type Stats struct {
	// StartTime is when the monitor was started.
	StartTime time.Time `json:"start_time"`

	// LastCycleTime is when the last check completed.
	LastCycleTime time.Time `json:"last_cycle_time"`

	TotalChecks      int64 `json:"total_checks"`
	SuccessfulChecks int64 `json:"successful_checks"`
	FailedChecks     int64 `json:"failed_checks"`

	// Transitions counts status changes, excluding the first check.
	Transitions int64 `json:"transitions"`
}
