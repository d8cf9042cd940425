package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	t.Run("creates metrics with specified max samples", func(t *testing.T) {
		m := New(500)
		if m.maxSamples != 500 {
			t.Errorf("expected maxSamples=500, got %d", m.maxSamples)
		}
	})

	t.Run("uses default max samples when not positive", func(t *testing.T) {
		if m := New(0); m.maxSamples != 1000 {
			t.Errorf("expected default maxSamples=1000, got %d", m.maxSamples)
		}
		if m := New(-10); m.maxSamples != 1000 {
			t.Errorf("expected default maxSamples=1000, got %d", m.maxSamples)
		}
	})
}

func TestRecordRound(t *testing.T) {
	m := New(100)

	m.RoundStarted()
	m.RecordRound(true, false, "", 90, 85, 120)
	m.RoundStarted()
	m.RecordRound(false, true, "agreement_below_threshold", 30, 69, 300)
	m.RoundStarted()
	m.RecordRound(false, false, "trust_below_threshold", 70, 50, 240)

	s := m.Snapshot()
	if s.RoundsTotal != 3 {
		t.Errorf("expected 3 rounds, got %d", s.RoundsTotal)
	}
	if s.RoundsApproved != 1 || s.RoundsRejected != 2 {
		t.Errorf("expected 1 approved and 2 rejected, got %d/%d", s.RoundsApproved, s.RoundsRejected)
	}
	if s.RoundsDegraded != 1 {
		t.Errorf("expected 1 degraded round, got %d", s.RoundsDegraded)
	}
	if s.RejectionsByCode["agreement_below_threshold"] != 1 || s.RejectionsByCode["trust_below_threshold"] != 1 {
		t.Errorf("unexpected rejections: %v", s.RejectionsByCode)
	}
	if s.RoundsInFlight != 0 {
		t.Errorf("expected no rounds in flight, got %d", s.RoundsInFlight)
	}
	if s.RoundLatency.MinMs != 120 || s.RoundLatency.MaxMs != 300 || s.RoundLatency.AverageMs != 220 {
		t.Errorf("unexpected latency stats: %+v", s.RoundLatency)
	}

	rate := s.ApprovalRate()
	if rate < 33.3 || rate > 33.4 {
		t.Errorf("expected approval rate ~33.3, got %f", rate)
	}

	if got := testutil.ToFloat64(m.Prometheus().rounds.WithLabelValues("rejected", "degraded")); got != 1 {
		t.Errorf("expected 1 rejected degraded round in prometheus, got %f", got)
	}
}

func TestRecordResponderCalls(t *testing.T) {
	m := New(10)
	m.RecordResponderCalls(3, []string{"TIMEOUT", "TIMEOUT", "AUTH_FAILED"})
	m.RecordOutliers(2)
	m.RecordOutliers(0)
	m.RecordValidationError()
	m.RoundStarted()
	m.RecordRoundError()

	s := m.Snapshot()
	if s.ResponderCalls != 6 || s.ResponderFailures != 3 {
		t.Errorf("expected 6 calls and 3 failures, got %d/%d", s.ResponderCalls, s.ResponderFailures)
	}
	if s.FailuresByCode["TIMEOUT"] != 2 || s.FailuresByCode["AUTH_FAILED"] != 1 {
		t.Errorf("unexpected failures: %v", s.FailuresByCode)
	}
	if s.OutliersFlagged != 2 {
		t.Errorf("expected 2 outliers, got %d", s.OutliersFlagged)
	}
	if s.ValidationErrors != 1 || s.RoundErrors != 1 {
		t.Errorf("expected one validation and one round error, got %d/%d", s.ValidationErrors, s.RoundErrors)
	}
	if got := testutil.ToFloat64(m.Prometheus().calls.WithLabelValues("TIMEOUT")); got != 2 {
		t.Errorf("expected 2 timeouts in prometheus, got %f", got)
	}
}

func TestLatencySamplesAreBounded(t *testing.T) {
	m := New(5)
	for i := int64(1); i <= 10; i++ {
		m.RoundStarted()
		m.RecordRound(true, false, "", 100, 100, i*10)
	}
	s := m.Snapshot()
	if s.RoundLatency.Samples != 5 {
		t.Errorf("expected 5 samples, got %d", s.RoundLatency.Samples)
	}
	if s.RoundLatency.MinMs != 60 {
		t.Errorf("expected oldest samples dropped, min=%d", s.RoundLatency.MinMs)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RoundStarted()
			m.RecordRound(true, false, "", 80, 80, 100)
			m.RecordResponderCalls(3, nil)
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.RoundsTotal != 50 || s.ResponderCalls != 150 {
		t.Errorf("expected 50 rounds and 150 calls, got %d/%d", s.RoundsTotal, s.ResponderCalls)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New(10)
	m.RoundStarted()
	m.RecordRound(true, false, "", 90, 90, 50)

	rec := httptest.NewRecorder()
	m.Prometheus().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `trustlayer_rounds_total{decision="approved",mode="live"} 1`) {
		t.Errorf("rounds counter missing from exposition")
	}
}
