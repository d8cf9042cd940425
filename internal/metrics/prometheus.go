package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trustlayer"

// Prometheus holds the collectors registered on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	rounds      *prometheus.CounterVec
	calls       *prometheus.CounterVec
	outliers    prometheus.Counter
	validation  prometheus.Counter
	roundErrors prometheus.Counter
	inFlight    prometheus.Gauge
	duration    prometheus.Histogram
	agreement   prometheus.Histogram
	trust       prometheus.Histogram
}

// NewPrometheus builds the collectors and registers them with Go and process
// collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	scoreBuckets := prometheus.LinearBuckets(10, 10, 10)
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed rounds by decision and mode.",
		}, []string{"decision", "mode"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_calls_total",
			Help:      "Responder calls by outcome.",
		}, []string{"outcome"}),
		outliers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outliers_total",
			Help:      "Responders flagged as outliers.",
		}),
		validation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Submissions rejected before a round was created.",
		}),
		roundErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_errors_total",
			Help:      "Rounds that failed without a result.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rounds_in_flight",
			Help:      "Rounds currently being processed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of a round from submission to decision.",
			Buckets:   prometheus.DefBuckets,
		}),
		agreement: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agreement_score",
			Help:      "Distribution of round agreement scores.",
			Buckets:   scoreBuckets,
		}),
		trust: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trust_score",
			Help:      "Distribution of round trust scores.",
			Buckets:   scoreBuckets,
		}),
	}

	p.registry.MustRegister(
		p.rounds, p.calls, p.outliers, p.validation, p.roundErrors,
		p.inFlight, p.duration, p.agreement, p.trust,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry exposes the registry for additional collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
