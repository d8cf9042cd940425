package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/traylinx/trustlayer/internal/audit"
	"github.com/traylinx/trustlayer/internal/hooks"
	"github.com/traylinx/trustlayer/internal/responder"
)

var (
	// ErrAlreadyRunning is returned by Start on a running monitor.
	ErrAlreadyRunning = errors.New("heartbeat monitor is already running")

	errUnreachable  = errors.New("router health check failed")
	errNoRouter     = errors.New("no router configured")
	errTooFewListed = errors.New("fewer responders than quorum")
)

// Monitor polls a responder.Client on an interval.
type Monitor struct {
	client responder.Client
	config Config
	events hooks.Publisher
	audit  *audit.Logger

	status HealthStatus
	stats  Stats
	mu     sync.RWMutex

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithEvents publishes health transitions to p.
func WithEvents(p hooks.Publisher) Option {
	return func(m *Monitor) { m.events = p }
}

// WithAuditLogger records health transitions in l.
func WithAuditLogger(l *audit.Logger) Option {
	return func(m *Monitor) { m.audit = l }
}

// NewMonitor creates a monitor for client. A nil client always reports
// StatusUnavailable.
func NewMonitor(client responder.Client, config Config, opts ...Option) *Monitor {
	config = config.sanitized()
	m := &Monitor{
		client: client,
		config: config,
		status: HealthStatus{Status: StatusUnknown, Quorum: config.Quorum},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs an immediate check and then one per interval until ctx ends or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.stats.StartTime = time.Now()
	interval := m.config.Interval
	done := m.done
	m.mu.Unlock()

	log.Infof("heartbeat monitor started (interval %s, quorum %d)", interval, m.config.Quorum)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.Check(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Check(loopCtx)
			}
		}
	}()
	return nil
}

// Stop ends the background loop and waits for it to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("heartbeat monitor stop timed out waiting for loop")
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

// Running reports whether the background loop is active.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Check queries the router once and records the result.
func (m *Monitor) Check(ctx context.Context) HealthStatus {
	start := time.Now()
	status := m.sample(ctx)
	status.ResponseTime = time.Since(start)
	status.LastCheck = time.Now()
	status.Quorum = m.config.Quorum

	m.update(status)
	return status
}

func (m *Monitor) sample(ctx context.Context) HealthStatus {
	if m.client == nil {
		return HealthStatus{Status: StatusUnavailable, ErrorMessage: errNoRouter.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	var (
		reachable bool
		listed    []responder.Descriptor
		listErr   error
	)
	g, gctx := errgroup.WithContext(checkCtx)
	g.Go(func() error {
		reachable = m.client.HealthCheck(gctx)
		if !reachable {
			return errUnreachable
		}
		return nil
	})
	g.Go(func() error {
		listed, listErr = m.client.ListResponders(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return HealthStatus{Status: StatusUnavailable, ErrorMessage: err.Error()}
	}

	if listErr != nil {
		return HealthStatus{Status: StatusDegraded, ErrorMessage: fmt.Sprintf("failed to list responders: %v", listErr)}
	}
	if len(listed) < m.config.Quorum {
		return HealthStatus{
			Status:       StatusDegraded,
			Responders:   len(listed),
			ErrorMessage: fmt.Sprintf("%v: %d < %d", errTooFewListed, len(listed), m.config.Quorum),
		}
	}
	return HealthStatus{Status: StatusHealthy, Responders: len(listed)}
}

func (m *Monitor) update(status HealthStatus) {
	m.mu.Lock()
	previous := m.status
	m.status = status
	m.stats.TotalChecks++
	m.stats.LastCycleTime = status.LastCheck
	if status.Status == StatusHealthy {
		m.stats.SuccessfulChecks++
	} else {
		m.stats.FailedChecks++
	}
	changed := previous.Status != status.Status
	if changed && previous.Status != StatusUnknown {
		m.stats.Transitions++
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	log.WithFields(log.Fields{
		"from":       previous.Status,
		"to":         status.Status,
		"responders": status.Responders,
	}).Info("router health changed")
	m.audit.LogHealthTransition(string(previous.Status), string(status.Status), status.Responders, status.ErrorMessage)

	if m.events == nil {
		return
	}
	data := map[string]any{
		"status":     string(status.Status),
		"previous":   string(previous.Status),
		"responders": status.Responders,
		"quorum":     status.Quorum,
	}
	switch status.Status {
	case StatusDegraded, StatusUnavailable:
		evt := hooks.NewEvent(hooks.EventHealthCheckFailed, "", data)
		evt.ErrorMessage = status.ErrorMessage
		m.events.PublishAsync(evt)
	case StatusHealthy:
		if previous.Status == StatusDegraded || previous.Status == StatusUnavailable {
			m.events.PublishAsync(hooks.NewEvent(hooks.EventHealthRecovered, "", data))
		}
	}
}

// Status returns the last recorded status.
func (m *Monitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Stats returns a copy of the monitor statistics.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Interval returns the check interval.
func (m *Monitor) Interval() time.Duration {
	return m.config.Interval
}
