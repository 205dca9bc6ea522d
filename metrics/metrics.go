// Package metrics provides Prometheus metrics for portal operations.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for portal operations.
// A nil *Metrics is a valid no-op instance.
type Metrics struct {
	enabled bool

	// Gateway metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshTotal    *prometheus.CounterVec

	// Session metrics
	sessionTransitions *prometheus.CounterVec
	loginsTotal        *prometheus.CounterVec

	// Access guard metrics
	guardDecisions *prometheus.CounterVec

	// Workflow metrics
	workflowOps *prometheus.CounterVec

	// Credential store metrics
	storeFailures *prometheus.CounterVec
}

// New creates metrics registered on reg.
// If reg is nil, returns a no-op Metrics instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}

	if reg == nil {
		return m
	}
	f := promauto.With(reg)

	// Gateway metrics
	m.requestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_api_requests_total",
		Help: "Total API requests by method and status class",
	}, []string{"method", "class"})

	m.requestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_api_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	m.refreshTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_token_refresh_total",
		Help: "Access token refresh attempts by outcome",
	}, []string{"outcome"})

	// Session metrics
	m.sessionTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_session_transitions_total",
		Help: "Session state transitions by resulting status and presence of a user",
	}, []string{"status", "authenticated"})

	m.loginsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	// Access guard metrics
	m.guardDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_guard_decisions_total",
		Help: "Access guard decisions",
	}, []string{"decision"})

	// Workflow metrics
	m.workflowOps = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_workflow_operations_total",
		Help: "Workflow operations by item kind, operation and result",
	}, []string{"kind", "op", "result"})

	// Credential store metrics
	m.storeFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_credential_store_failures_total",
		Help: "Credential store I/O failures by backend and operation",
	}, []string{"backend", "op"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordRequest records one API round trip.
func (m *Metrics) RecordRequest(method string, status int, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.requestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordRefresh records a refresh attempt ("success", "failure", "reused").
func (m *Metrics) RecordRefresh(outcome string) {
	if !m.on() {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionTransition records a session state change.
func (m *Metrics) RecordSessionTransition(status string, authenticated bool) {
	if !m.on() {
		return
	}
	m.sessionTransitions.WithLabelValues(status, strconv.FormatBool(authenticated)).Inc()
}

// RecordLogin records a login attempt result ("success", "invalid", "error").
func (m *Metrics) RecordLogin(result string) {
	if !m.on() {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordGuardDecision records an access guard decision.
func (m *Metrics) RecordGuardDecision(decision string) {
	if !m.on() {
		return
	}
	m.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordWorkflow records a workflow operation result.
func (m *Metrics) RecordWorkflow(kind, op, result string) {
	if !m.on() {
		return
	}
	m.workflowOps.WithLabelValues(kind, op, result).Inc()
}

// RecordStoreFailure records a credential store I/O failure.
func (m *Metrics) RecordStoreFailure(backend, op string) {
	if !m.on() {
		return
	}
	m.storeFailures.WithLabelValues(backend, op).Inc()
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
