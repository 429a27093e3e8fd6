package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Aptos REST Metrics
	restCallsTotal     *prometheus.CounterVec
	restCallDuration   *prometheus.HistogramVec
	restResponsesTotal *prometheus.CounterVec

	// Pipeline Metrics
	transactionsSubmittedTotal *prometheus.CounterVec
	simulationsTotal           *prometheus.CounterVec

	// Confirmation Metrics
	pollAttemptsTotal   *prometheus.CounterVec
	confirmOutcomes     *prometheus.CounterVec
	confirmWaitDuration *prometheus.HistogramVec

	// Workflow Metrics
	confirmWorkflowDuration        *prometheus.HistogramVec
	confirmWorkflowExecutionsTotal *prometheus.CounterVec
	confirmActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Gateway HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		restCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aptos_rest_calls_total",
				Help: "Total number of Aptos REST calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		restCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aptos_rest_call_duration_seconds",
				Help:    "Duration of Aptos REST calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		restResponsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aptos_rest_responses_total",
				Help: "Total number of HTTP responses from the fullnode by route and status class",
			},
			[]string{"route", "http_method", "status"},
		),

		transactionsSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_submitted_total",
				Help: "Total number of signed transactions submitted",
			},
			[]string{"authenticator", "status"},
		),
		simulationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_simulated_total",
				Help: "Total number of simulations by execution result",
			},
			[]string{"result"},
		),

		pollAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_poll_attempts_total",
				Help: "Total number of status queries issued while confirming transactions",
			},
			[]string{"result"},
		),
		confirmOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_outcomes_total",
				Help: "Total number of confirmation outcomes by kind",
			},
			[]string{"outcome"},
		),
		confirmWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_wait_duration_seconds",
				Help:    "Time from first status query to a terminal outcome",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		confirmWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_workflow_duration_seconds",
				Help:    "Duration of confirmation workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		confirmWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_workflow_executions_total",
				Help: "Total number of confirmation workflow executions",
			},
			[]string{"status"},
		),
		confirmActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_activity_duration_seconds",
				Help:    "Duration of confirmation workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of gateway HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of gateway HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"scope"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"scope", "event_type"},
		),
	}
}

// REST metric helpers

// RecordRESTCall records a call through the Aptos client with duration.
func (m *Metrics) RecordRESTCall(method, status, endpoint string, duration float64) {
	m.restCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.restCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRESTResponse records one HTTP response from the fullnode.
func (m *Metrics) RecordRESTResponse(route, method string, statusCode int) {
	m.restResponsesTotal.WithLabelValues(route, method, statusCodeToString(statusCode)).Inc()
}

// Pipeline metric helpers

func (m *Metrics) RecordSubmission(authenticator, status string) {
	m.transactionsSubmittedTotal.WithLabelValues(authenticator, status).Inc()
}

func (m *Metrics) RecordSimulation(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.simulationsTotal.WithLabelValues(result).Inc()
}

// Confirmation metric helpers

// RecordPollAttempt records one status query and what it returned.
func (m *Metrics) RecordPollAttempt(result string) {
	m.pollAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordOutcome records a terminal confirmation outcome.
func (m *Metrics) RecordOutcome(outcome string, duration float64) {
	m.confirmOutcomes.WithLabelValues(outcome).Inc()
	m.confirmWaitDuration.WithLabelValues(outcome).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.confirmWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.confirmWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.confirmActivityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Gateway metric helpers

// RecordHTTPRequest records a gateway request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
// scope is "sender" or "all", never an address.
func (m *Metrics) RecordSSEConnectionChange(scope string, delta float64) {
	m.sseActiveConnections.WithLabelValues(scope).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(scope, eventType string) {
	m.sseEventsSent.WithLabelValues(scope, eventType).Inc()
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
