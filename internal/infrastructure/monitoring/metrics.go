package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	OutputRejections  prometheus.Counter

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsSpawned prometheus.Counter
	SessionsClosed  prometheus.Counter

	// Pool metrics
	PoolDials *prometheus.CounterVec
	PoolIdle  *prometheus.GaugeVec
	PoolInUse *prometheus.GaugeVec

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Scraping goes through a per-instance registry so repeated
	// construction never collides on metric names.
	registry *prometheus.Registry

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests   int64
	TotalErrors     int64
	TotalExecutions int64
	ActiveSessions  int64
	TotalDuration   float64 // sum of all request durations
	RequestCount    int64   // count for averaging
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substrate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substrate_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substrate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Execution metrics
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_executions_total",
				Help: "Total number of command executions",
			},
			[]string{"mode", "command", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substrate_execution_duration_seconds",
				Help:    "Command execution duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode", "command"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_execution_retries_total",
				Help: "Total number of execution retry attempts",
			},
			[]string{"mode"},
		),
		OutputRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "substrate_output_rejections_total",
				Help: "Total number of executions rejected by the output size ceiling",
			},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "substrate_sessions_active",
				Help: "Number of active terminal sessions",
			},
		),
		SessionsSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "substrate_sessions_spawned_total",
				Help: "Total number of terminal sessions spawned",
			},
		),
		SessionsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "substrate_sessions_closed_total",
				Help: "Total number of terminal sessions closed",
			},
		),

		// Pool metrics
		PoolDials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_pool_dials_total",
				Help: "Total number of physical connection dials",
			},
			[]string{"host"},
		),
		PoolIdle: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "substrate_pool_connections_idle",
				Help: "Idle pooled connections per host",
			},
			[]string{"host"},
		),
		PoolInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "substrate_pool_connections_in_use",
				Help: "Leased pooled connections per host",
			},
			[]string{"host"},
		),

		// Breaker metrics
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "substrate_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"name", "to"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "substrate_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "substrate_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// Registry exposes the backing registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordExecution records one command execution
func (m *Metrics) RecordExecution(mode, command, status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(mode, command, status).Inc()
	m.ExecutionDuration.WithLabelValues(mode, command).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalExecutions++
	m.mu.Unlock()
}

// IncRetry counts one retry attempt
func (m *Metrics) IncRetry(mode string) {
	m.RetriesTotal.WithLabelValues(mode).Inc()
}

// IncOutputRejections counts one execution rejected by the output ceiling
func (m *Metrics) IncOutputRejections() {
	m.OutputRejections.Inc()
}

// SetSessionsActive sets the number of active terminal sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsSpawned increments the spawned sessions counter
func (m *Metrics) IncSessionsSpawned() {
	m.SessionsSpawned.Inc()
}

// IncSessionsClosed increments the closed sessions counter
func (m *Metrics) IncSessionsClosed() {
	m.SessionsClosed.Inc()
}

// RecordPoolDial counts one physical dial for a host key
func (m *Metrics) RecordPoolDial(host string) {
	m.PoolDials.WithLabelValues(host).Inc()
}

// SetPoolConnections sets per-host pool occupancy
func (m *Metrics) SetPoolConnections(host string, idle, inUse int) {
	m.PoolIdle.WithLabelValues(host).Set(float64(idle))
	m.PoolInUse.WithLabelValues(host).Set(float64(inUse))
}

// SetBreakerState sets a breaker's state gauge
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// IncBreakerTransition counts a breaker state transition
func (m *Metrics) IncBreakerTransition(name, to string) {
	m.BreakerTransitions.WithLabelValues(name, to).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}
