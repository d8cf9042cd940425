package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/traylinx/trustlayer/internal/audit"
	"github.com/traylinx/trustlayer/internal/hooks"
	"github.com/traylinx/trustlayer/internal/responder"
)

type recorder struct {
	mu     sync.Mutex
	events []*hooks.EventContext
}

func (r *recorder) PublishAsync(ctx *hooks.EventContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ctx)
}

func (r *recorder) types() []hooks.HookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hooks.HookEvent, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

// fakeRouter reports health and a responder listing that tests can change.
type fakeRouter struct {
	healthy atomic.Bool
	count   atomic.Int32
	listErr atomic.Value
	checks  atomic.Int32
}

func newFakeRouter(healthy bool, count int) *fakeRouter {
	f := &fakeRouter{}
	f.healthy.Store(healthy)
	f.count.Store(int32(count))
	return f
}

func (f *fakeRouter) client() responder.Funcs {
	return responder.Funcs{
		HealthFunc: func(ctx context.Context) bool {
			f.checks.Add(1)
			return f.healthy.Load()
		},
		ListFunc: func(ctx context.Context) ([]responder.Descriptor, error) {
			if err, ok := f.listErr.Load().(error); ok && err != nil {
				return nil, err
			}
			n := int(f.count.Load())
			out := make([]responder.Descriptor, n)
			for i := range out {
				out[i] = responder.Descriptor{ID: fmt.Sprintf("miner_%d", i)}
			}
			return out, nil
		},
	}
}

func testConfig() Config {
	return Config{Interval: 10 * time.Millisecond, Timeout: time.Second, Quorum: 3}
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(nil, Config{})
	if m.Interval() != 30*time.Second {
		t.Errorf("expected default interval 30s, got %s", m.Interval())
	}
	status := m.Status()
	if status.Status != StatusUnknown {
		t.Errorf("expected unknown status before first check, got %s", status.Status)
	}
	if status.Quorum != 3 {
		t.Errorf("expected quorum 3, got %d", status.Quorum)
	}
}

func TestCheck_NoRouter(t *testing.T) {
	status := NewMonitor(nil, testConfig()).Check(context.Background())
	if status.Status != StatusUnavailable {
		t.Fatalf("expected unavailable, got %s", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Error("expected error message")
	}
}

func TestCheck_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		healthy    bool
		count      int
		listErr    error
		want       Status
		responders int
	}{
		{name: "quorum listed", healthy: true, count: 5, want: StatusHealthy, responders: 5},
		{name: "exact quorum", healthy: true, count: 3, want: StatusHealthy, responders: 3},
		{name: "below quorum", healthy: true, count: 2, want: StatusDegraded, responders: 2},
		{name: "list error", healthy: true, listErr: errors.New("boom"), want: StatusDegraded},
		{name: "unreachable", healthy: false, count: 5, want: StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newFakeRouter(tt.healthy, tt.count)
			if tt.listErr != nil {
				router.listErr.Store(tt.listErr)
			}
			status := NewMonitor(router.client(), testConfig()).Check(context.Background())
			if status.Status != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, status.Status, status.ErrorMessage)
			}
			if status.Responders != tt.responders {
				t.Errorf("expected %d responders, got %d", tt.responders, status.Responders)
			}
			if status.LastCheck.IsZero() {
				t.Error("expected LastCheck to be set")
			}
		})
	}
}

func TestCheck_TransitionEvents(t *testing.T) {
	router := newFakeRouter(true, 3)
	rec := &recorder{}
	m := NewMonitor(router.client(), testConfig(), WithEvents(rec))
	ctx := context.Background()

	m.Check(ctx) // unknown -> healthy, not a recovery
	m.Check(ctx) // unchanged
	router.count.Store(1)
	m.Check(ctx) // healthy -> degraded
	router.healthy.Store(false)
	m.Check(ctx) // degraded -> unavailable
	router.healthy.Store(true)
	router.count.Store(4)
	m.Check(ctx) // unavailable -> healthy

	want := []hooks.HookEvent{
		hooks.EventHealthCheckFailed,
		hooks.EventHealthCheckFailed,
		hooks.EventHealthRecovered,
	}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	rec.mu.Lock()
	first := rec.events[0]
	rec.mu.Unlock()
	if first.Data["status"] != "degraded" || first.Data["previous"] != "healthy" {
		t.Errorf("unexpected event data: %v", first.Data)
	}
	if first.ErrorMessage == "" {
		t.Error("expected failure event to carry the error message")
	}

	stats := m.Stats()
	if stats.TotalChecks != 5 {
		t.Errorf("expected 5 checks, got %d", stats.TotalChecks)
	}
	if stats.SuccessfulChecks != 3 || stats.FailedChecks != 2 {
		t.Errorf("expected 3 ok / 2 failed, got %d / %d", stats.SuccessfulChecks, stats.FailedChecks)
	}
	if stats.Transitions != 3 {
		t.Errorf("expected 3 transitions, got %d", stats.Transitions)
	}
}

func TestCheck_FirstFailureIsReported(t *testing.T) {
	rec := &recorder{}
	m := NewMonitor(newFakeRouter(false, 0).client(), testConfig(), WithEvents(rec))
	m.Check(context.Background())

	got := rec.types()
	if len(got) != 1 || got[0] != hooks.EventHealthCheckFailed {
		t.Fatalf("expected a single health_check_failed event, got %v", got)
	}
}

func TestCheck_AuditsTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := audit.NewLogger(audit.Config{Enabled: true, LogPath: path})
	if err != nil {
		t.Fatalf("failed to create audit logger: %v", err)
	}

	router := newFakeRouter(true, 3)
	m := NewMonitor(router.client(), testConfig(), WithAuditLogger(logger))
	m.Check(context.Background())
	router.count.Store(0)
	m.Check(context.Background())
	m.Check(context.Background())
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit entries, got %d: %s", len(lines), data)
	}
	if !strings.Contains(lines[1], `"to":"degraded"`) {
		t.Errorf("expected degraded transition, got %s", lines[1])
	}
}

func TestCheck_Timeout(t *testing.T) {
	client := responder.Funcs{
		HealthFunc: func(ctx context.Context) bool {
			<-ctx.Done()
			return false
		},
	}
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	status := NewMonitor(client, cfg).Check(context.Background())
	if status.Status != StatusUnavailable {
		t.Errorf("expected unavailable, got %s", status.Status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("check did not honor timeout: %s", elapsed)
	}
}

func TestStartStop(t *testing.T) {
	router := newFakeRouter(true, 3)
	m := NewMonitor(router.client(), testConfig())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if !m.Running() {
		t.Error("expected monitor to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for router.checks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if router.checks.Load() < 3 {
		t.Fatalf("expected at least 3 checks, got %d", router.checks.Load())
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if m.Running() {
		t.Error("expected monitor to be stopped")
	}
	if m.Status().Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", m.Status().Status)
	}

	// Stop is idempotent and the monitor can be restarted.
	if err := m.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = m.Stop()
}
