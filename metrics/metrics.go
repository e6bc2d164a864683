// Package metrics provides Prometheus metrics for the session SDK.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil or disabled *Metrics is a no-op.
type Metrics struct {
	enabled bool

	// Gateway metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	unauthorized    prometheus.Counter

	// Session metrics
	authOutcomes *prometheus.CounterVec
	probeTotal   *prometheus.CounterVec

	// Lifecycle metrics
	transitions *prometheus.CounterVec
}

// New creates and registers metrics on reg (prometheus.DefaultRegisterer when nil).
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m.requestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guru_gateway_requests_total",
		Help: "Total HTTP exchanges performed by the request gateway",
	}, []string{"method", "path", "code"})

	m.requestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guru_gateway_request_duration_seconds",
		Help:    "Request gateway exchange duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.unauthorized = f.NewCounter(prometheus.CounterOpts{
		Name: "guru_gateway_unauthorized_total",
		Help: "Total 401 responses observed by the request gateway",
	})

	m.authOutcomes = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guru_session_auth_total",
		Help: "Session operations by outcome",
	}, []string{"operation", "result"})

	m.probeTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guru_session_probe_total",
		Help: "Session probes by outcome (ok, timeout, failed, stale)",
	}, []string{"outcome"})

	m.transitions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guru_lifecycle_transitions_total",
		Help: "Auth lifecycle state transitions",
	}, []string{"from", "to"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// ObserveRequest records one gateway exchange. code is 0 for transport failures.
func (m *Metrics) ObserveRequest(method, path string, code int, d time.Duration) {
	if !m.on() {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.requestsTotal.WithLabelValues(method, path, label).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordUnauthorized records a 401 response.
func (m *Metrics) RecordUnauthorized() {
	if !m.on() {
		return
	}
	m.unauthorized.Inc()
}

// RecordAuthSuccess records a successful session operation.
func (m *Metrics) RecordAuthSuccess(operation string) {
	if !m.on() {
		return
	}
	m.authOutcomes.WithLabelValues(operation, "success").Inc()
}

// RecordAuthFailure records a failed or rejected session operation.
func (m *Metrics) RecordAuthFailure(operation, reason string) {
	if !m.on() {
		return
	}
	m.authOutcomes.WithLabelValues(operation, reason).Inc()
}

// RecordProbe records the outcome of a session probe.
func (m *Metrics) RecordProbe(outcome string) {
	if !m.on() {
		return
	}
	m.probeTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records a lifecycle state change.
func (m *Metrics) RecordTransition(from, to string) {
	if !m.on() {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
