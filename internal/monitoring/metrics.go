package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lightcurve"

// Metrics records pipeline and batch telemetry on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	outcomes      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	drawsAccepted prometheus.Counter
	drawsRejected prometheus.Counter
	runs          prometheus.Counter
	requests      *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_total",
			Help:      "Objects processed, by status and rejecting gate.",
		}, []string{"status", "gate"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage per object.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"stage"}),
		drawsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posterior_draws_accepted_total",
			Help:      "Posterior realisations accepted.",
		}),
		drawsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posterior_draws_rejected_total",
			Help:      "Posterior realisations rejected by the band test.",
		}),
		runs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Completed batch runs.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveOutcome(status, gate string) {
	m.outcomes.WithLabelValues(status, gate).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveDraws(accepted, rejected int) {
	m.drawsAccepted.Add(float64(accepted))
	m.drawsRejected.Add(float64(rejected))
}

// RunCompleted counts a finished batch run.
func (m *Metrics) RunCompleted() { m.runs.Inc() }

// ObserveRequest counts one API request.
func (m *Metrics) ObserveRequest(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}
