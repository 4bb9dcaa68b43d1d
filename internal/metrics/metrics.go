package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeBadRequest = "bad_request"
	OutcomeUpstream   = "upstream_error"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests *prometheus.CounterVec
	relayDuration prometheus.Histogram
	stepResults   *prometheus.CounterVec
	flowsTotal    prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowlens_relay_requests_total",
				Help: "Total number of relay requests by outcome",
			},
			[]string{"outcome"},
		),
		relayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowlens_relay_request_duration_seconds",
			Help:    "Relay request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		stepResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowlens_step_results_total",
				Help: "Total number of finished steps by type and status",
			},
			[]string{"type", "status"},
		),
		flowsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowlens_flows",
			Help: "Number of flows in the application state",
		}),
	}
	m.registry.MustRegister(
		m.relayRequests,
		m.relayDuration,
		m.stepResults,
		m.flowsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRelay records one relay request.
func (m *Metrics) ObserveRelay(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(outcome).Inc()
	m.relayDuration.Observe(d.Seconds())
}

// ObserveStep records a step reaching complete or error.
func (m *Metrics) ObserveStep(stepType, status string) {
	if m == nil {
		return
	}
	m.stepResults.WithLabelValues(stepType, status).Inc()
}

// SetFlows records the current flow count.
func (m *Metrics) SetFlows(n int) {
	if m == nil {
		return
	}
	m.flowsTotal.Set(float64(n))
}

// Registry exposes the private registry for tests and gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
