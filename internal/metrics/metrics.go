// Package metrics tracks round outcomes, responder call results and round
// latency for the trust layer. Counters are kept in process for the JSON
// snapshot endpoint and mirrored into a Prometheus registry.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks all round operations for observability.
type Metrics struct {
	// Round counters
	roundsTotal    atomic.Int64
	roundsApproved atomic.Int64
	roundsRejected atomic.Int64
	roundsDegraded atomic.Int64
	validationErrs atomic.Int64
	roundErrors    atomic.Int64

	// Responder call counters
	responderCalls    atomic.Int64
	responderFailures atomic.Int64
	outliersFlagged   atomic.Int64

	// Rejections by code
	rejectionsMu sync.RWMutex
	rejections   map[string]int64

	// Failures by responder error code
	failuresMu sync.RWMutex
	failures   map[string]int64

	// Round latency tracking (in milliseconds)
	latencyMu      sync.RWMutex
	latencySamples []int64
	maxSamples     int

	roundsInFlight atomic.Int64

	startTime time.Time
	prom      *Prometheus
}

// New creates a Metrics instance keeping at most maxSamples round latencies.
func New(maxSamples int) *Metrics {
	if maxSamples <= 0 {
		maxSamples = 1000
	}

	return &Metrics{
		rejections:     make(map[string]int64),
		failures:       make(map[string]int64),
		latencySamples: make([]int64, 0, maxSamples),
		maxSamples:     maxSamples,
		startTime:      time.Now(),
		prom:           NewPrometheus(),
	}
}

// Prometheus returns the Prometheus collectors backing this instance.
func (m *Metrics) Prometheus() *Prometheus {
	return m.prom
}

// RoundStarted increments the in-flight gauge. Pair with RecordRound or RecordRoundError.
func (m *Metrics) RoundStarted() {
	m.roundsInFlight.Add(1)
	m.prom.inFlight.Inc()
}

// RecordRound records a completed round.
func (m *Metrics) RecordRound(approved, degraded bool, rejectionCode string, agreement, trust int, latencyMs int64) {
	m.roundsInFlight.Add(-1)
	m.prom.inFlight.Dec()
	m.roundsTotal.Add(1)

	decision := "approved"
	if approved {
		m.roundsApproved.Add(1)
	} else {
		decision = "rejected"
		m.roundsRejected.Add(1)
		m.rejectionsMu.Lock()
		m.rejections[rejectionCode]++
		m.rejectionsMu.Unlock()
	}

	mode := "live"
	if degraded {
		mode = "degraded"
		m.roundsDegraded.Add(1)
	}

	m.prom.rounds.WithLabelValues(decision, mode).Inc()
	m.prom.agreement.Observe(float64(agreement))
	m.prom.trust.Observe(float64(trust))
	m.prom.duration.Observe(float64(latencyMs) / 1000)
	m.recordLatency(latencyMs)
}

// RecordRoundError records a round that failed before producing a result.
func (m *Metrics) RecordRoundError() {
	m.roundsInFlight.Add(-1)
	m.prom.inFlight.Dec()
	m.roundErrors.Add(1)
	m.prom.roundErrors.Inc()
}

// RecordValidationError records a rejected submission such as an empty prompt.
func (m *Metrics) RecordValidationError() {
	m.validationErrs.Add(1)
	m.prom.validation.Inc()
}

// RecordResponderCalls records the outcome of one round's live calls.
func (m *Metrics) RecordResponderCalls(succeeded int, failureCodes []string) {
	total := int64(succeeded + len(failureCodes))
	m.responderCalls.Add(total)
	m.responderFailures.Add(int64(len(failureCodes)))
	m.prom.calls.WithLabelValues("success").Add(float64(succeeded))

	if len(failureCodes) == 0 {
		return
	}
	m.failuresMu.Lock()
	for _, code := range failureCodes {
		m.failures[code]++
	}
	m.failuresMu.Unlock()
	for _, code := range failureCodes {
		m.prom.calls.WithLabelValues(code).Inc()
	}
}

// RecordOutliers adds n flagged outliers.
func (m *Metrics) RecordOutliers(n int) {
	if n <= 0 {
		return
	}
	m.outliersFlagged.Add(int64(n))
	m.prom.outliers.Add(float64(n))
}

func (m *Metrics) recordLatency(latencyMs int64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	m.latencySamples = append(m.latencySamples, latencyMs)
	if len(m.latencySamples) > m.maxSamples {
		m.latencySamples = m.latencySamples[len(m.latencySamples)-m.maxSamples:]
	}
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() *Snapshot {
	m.rejectionsMu.RLock()
	rejections := make(map[string]int64, len(m.rejections))
	for k, v := range m.rejections {
		rejections[k] = v
	}
	m.rejectionsMu.RUnlock()

	m.failuresMu.RLock()
	failures := make(map[string]int64, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	m.failuresMu.RUnlock()

	m.latencyMu.RLock()
	latency := m.calculateLatencyStats()
	m.latencyMu.RUnlock()

	return &Snapshot{
		RoundsTotal:       m.roundsTotal.Load(),
		RoundsApproved:    m.roundsApproved.Load(),
		RoundsRejected:    m.roundsRejected.Load(),
		RoundsDegraded:    m.roundsDegraded.Load(),
		RoundErrors:       m.roundErrors.Load(),
		ValidationErrors:  m.validationErrs.Load(),
		ResponderCalls:    m.responderCalls.Load(),
		ResponderFailures: m.responderFailures.Load(),
		OutliersFlagged:   m.outliersFlagged.Load(),
		RejectionsByCode:  rejections,
		FailuresByCode:    failures,
		RoundLatency:      latency,
		RoundsInFlight:    m.roundsInFlight.Load(),
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		Timestamp:         time.Now(),
	}
}

// calculateLatencyStats must be called with latencyMu held.
func (m *Metrics) calculateLatencyStats() LatencyStats {
	n := len(m.latencySamples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]int64, n)
	copy(sorted, m.latencySamples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, s := range sorted {
		sum += s
	}

	return LatencyStats{
		AverageMs: sum / int64(n),
		MinMs:     sorted[0],
		MaxMs:     sorted[n-1],
		P95Ms:     sorted[(n*95-1)/100],
		Samples:   int64(n),
	}
}

// Snapshot is safe to serialize and expose via API endpoints.
type Snapshot struct {
	RoundsTotal       int64 `json:"rounds_total"`
	RoundsApproved    int64 `json:"rounds_approved"`
	RoundsRejected    int64 `json:"rounds_rejected"`
	RoundsDegraded    int64 `json:"rounds_degraded"`
	RoundErrors       int64 `json:"round_errors"`
	ValidationErrors  int64 `json:"validation_errors"`
	ResponderCalls    int64 `json:"responder_calls"`
	ResponderFailures int64 `json:"responder_failures"`
	OutliersFlagged   int64 `json:"outliers_flagged"`

	RejectionsByCode map[string]int64 `json:"rejections_by_code"`
	FailuresByCode   map[string]int64 `json:"failures_by_code"`

	RoundLatency LatencyStats `json:"round_latency"`

	RoundsInFlight int64 `json:"rounds_in_flight"`

	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// LatencyStats summarizes round latencies.
type LatencyStats struct {
	AverageMs int64 `json:"average_ms"`
	MinMs     int64 `json:"min_ms"`
	MaxMs     int64 `json:"max_ms"`
	P95Ms     int64 `json:"p95_ms"`
	Samples   int64 `json:"samples"`
}

// ApprovalRate returns approved rounds as a percentage of all rounds.
func (s *Snapshot) ApprovalRate() float64 {
	if s.RoundsTotal == 0 {
		return 0.0
	}
	return float64(s.RoundsApproved) / float64(s.RoundsTotal) * 100.0
}

// DegradedRate returns degraded rounds as a percentage of all rounds.
func (s *Snapshot) DegradedRate() float64 {
	if s.RoundsTotal == 0 {
		return 0.0
	}
	return float64(s.RoundsDegraded) / float64(s.RoundsTotal) * 100.0
}
