// Package metrics provides Prometheus metrics collection for the rule engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors used by the engine. Every
// component that records metrics receives a *Metrics via constructor
// injection; there is no package-level global.
type Metrics struct {
	// HTTP metrics (Operations API)
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Executor metrics
	RulesExecutedTotal *prometheus.CounterVec
	RuleExecDuration   *prometheus.HistogramVec

	// Approval metrics
	ApprovalTransitionsTotal *prometheus.CounterVec

	// Lock metrics
	LockContentionTotal *prometheus.CounterVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registry.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(serviceName, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registerer
// (tests typically pass prometheus.NewRegistry() to avoid collisions).
func NewWithRegistry(serviceName, version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brm_http_requests_total",
				Help: "Total number of Operations API HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brm_http_request_duration_seconds",
				Help:    "Operations API HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brm_http_requests_in_flight",
				Help: "Current number of Operations API requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brm_errors_total",
				Help: "Total number of engine errors by code",
			},
			[]string{"code", "operation"},
		),

		RulesExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brm_rules_executed_total",
				Help: "Total number of rule executions by outcome",
			},
			[]string{"outcome"}, // passed, failed, skipped
		),
		RuleExecDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brm_rule_execution_duration_seconds",
				Help:    "Duration of a single rule's SQL execution",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"rule_id"},
		),

		ApprovalTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brm_approval_transitions_total",
				Help: "Total number of approval pipeline stage transitions",
			},
			[]string{"stage", "decision"}, // decision: approved, rejected
		),

		LockContentionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brm_lock_contention_total",
				Help: "Total number of lock acquisition attempts that failed due to contention",
			},
			[]string{"forced"},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brm_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brm_database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brm_database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brm_service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "brm_service_info",
				Help: "Service build information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.RulesExecutedTotal,
			m.RuleExecDuration,
			m.ApprovalTransitionsTotal,
			m.LockContentionTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, version).Set(1)

	return m
}

// RecordHTTPRequest records an Operations API HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError records an engine error by its taxonomy code.
func (m *Metrics) RecordError(code, operation string) {
	m.ErrorsTotal.WithLabelValues(code, operation).Inc()
}

// RecordRuleExecution records a single rule execution outcome and duration.
func (m *Metrics) RecordRuleExecution(ruleID string, outcome string, duration time.Duration) {
	m.RulesExecutedTotal.WithLabelValues(outcome).Inc()
	m.RuleExecDuration.WithLabelValues(ruleID).Observe(duration.Seconds())
}

// RecordApprovalTransition records an approval stage decision.
func (m *Metrics) RecordApprovalTransition(stage, decision string) {
	m.ApprovalTransitionsTotal.WithLabelValues(stage, decision).Inc()
}

// RecordLockContention records a failed lock acquisition attempt.
func (m *Metrics) RecordLockContention(forced bool) {
	label := "false"
	if forced {
		label = "true"
	}
	m.LockContentionTotal.WithLabelValues(label).Inc()
}

// RecordDatabaseQuery records a database query outcome and duration.
func (m *Metrics) RecordDatabaseQuery(operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the current number of open database connections.
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime gauge relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight HTTP requests gauge.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight HTTP requests gauge.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}
