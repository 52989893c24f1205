package o11y

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of the verifier. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	validations     *prometheus.CounterVec
	staleResponses  prometheus.Counter
	attempts        *prometheus.CounterVec
	pollCycles      *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	outbound        *prometheus.HistogramVec
	cacheOps        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "token_validations_total",
			Help:      "Token validation requests by result.",
		}, []string{"result"}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "token_validation_stale_total",
			Help:      "Validation responses discarded because a newer request superseded them.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "attempts_total",
			Help:      "Verification attempts started by strategy and method.",
		}, []string{"strategy", "method"}),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "poll_cycles_total",
			Help:      "Latest-result polls by returned status.",
		}, []string{"status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "outcomes_total",
			Help:      "Resolved verification attempts by final phase.",
		}, []string{"phase"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verifier",
			Name:      "attempt_duration_seconds",
			Help:      "Time from start to resolution of an attempt.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"strategy"}),
		outbound: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verifier",
			Name:      "outbound_request_duration_seconds",
			Help:      "Outbound HTTP requests by host and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "code"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "session_cache_operations_total",
			Help:      "Session cache operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.validations,
		m.staleResponses,
		m.attempts,
		m.pollCycles,
		m.outcomes,
		m.attemptDuration,
		m.outbound,
		m.cacheOps,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ValidationResult(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Metrics) StaleValidation() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
}

func (m *Metrics) AttemptStarted(strategy string, method string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(strategy, method).Inc()
}

func (m *Metrics) PollCycle(status string) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(status).Inc()
}

func (m *Metrics) AttemptResolved(strategy string, phase string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(phase).Inc()
	m.attemptDuration.WithLabelValues(strategy).Observe(seconds)
}

func (m *Metrics) OutboundRequest(host string, code string, seconds float64) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(host, code).Observe(seconds)
}

func (m *Metrics) CacheOperation(backend string, op string, result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(backend, op, result).Inc()
}
