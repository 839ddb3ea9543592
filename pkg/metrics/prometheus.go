package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay. Each instance owns its
// registry so several can coexist in one process (tests, multiple servers).
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   *prometheus.GaugeVec
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Routing Metrics
	deliveriesTotal *prometheus.CounterVec
	livenessEvicted prometheus.Counter

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	groupCallsActive prometheus.Gauge
	callsDuration    *prometheus.HistogramVec

	// Chat Metrics
	chatMessagesTotal *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	// Circuit Breaker Metrics
	circuitBreakerState *prometheus.GaugeVec

	// Redis Metrics
	redisDegraded    prometheus.Gauge
	redisHealthCheck prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of registered WebSocket connections per channel",
				ConstLabels: labels,
			},
			[]string{"channel"},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"error"},
		),

		deliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "router_deliveries_total",
				Help:        "Outbound deliveries by mode and outcome",
				ConstLabels: labels,
			},
			[]string{"mode", "outcome"},
		),
		livenessEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "liveness_evicted_connections_total",
				Help:        "Connections closed by the liveness sweep",
				ConstLabels: labels,
			},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Call status transitions",
				ConstLabels: labels,
			},
			[]string{"scope", "kind", "status"},
		),
		groupCallsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "group_calls_active",
				Help:        "Number of active group calls",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"scope", "kind"},
		),

		chatMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_messages_total",
				Help:        "Room chat messages relayed",
				ConstLabels: labels,
			},
			[]string{"persisted"},
		),

		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type", "platform"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"type", "platform"},
		),

		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "circuit_breaker_state",
				Help:        "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
			[]string{"name"},
		),

		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
		redisHealthCheck: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "redis_health_check_total",
				Help:        "Total number of successful Redis health checks",
				ConstLabels: labels,
			},
		),
	}
}

// Registry exposes the underlying registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// SetWebSocketConnections sets the number of registered connections on a channel
func (m *Metrics) SetWebSocketConnections(channel string, count int) {
	m.websocketConnections.WithLabelValues(channel).Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message; direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

func (m *Metrics) RecordWebSocketError(err string) {
	m.websocketErrorsTotal.WithLabelValues(err).Inc()
}

// RecordDelivery records one router delivery attempt; mode is direct, redundant, room or broadcast
func (m *Metrics) RecordDelivery(mode string, delivered bool) {
	outcome := "undelivered"
	if delivered {
		outcome = "delivered"
	}
	m.deliveriesTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordLivenessEvictions(count int) {
	m.livenessEvicted.Add(float64(count))
}

// RecordCall records a call status transition; scope is direct, room or group
func (m *Metrics) RecordCall(scope, kind, status string) {
	m.callsTotal.WithLabelValues(scope, kind, status).Inc()
}

func (m *Metrics) RecordCallDuration(scope, kind string, duration time.Duration) {
	m.callsDuration.WithLabelValues(scope, kind).Observe(duration.Seconds())
}

func (m *Metrics) SetActiveGroupCalls(count int) {
	m.groupCallsActive.Set(float64(count))
}

func (m *Metrics) RecordChatMessage(persisted bool) {
	m.chatMessagesTotal.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

func (m *Metrics) RecordPushNotification(notifType, platform string) {
	m.pushNotificationsTotal.WithLabelValues(notifType, platform).Inc()
}

func (m *Metrics) RecordPushNotificationFailure(notifType, platform string) {
	m.pushNotificationsFailed.WithLabelValues(notifType, platform).Inc()
}

// SetCircuitBreakerState records a breaker transition
func (m *Metrics) SetCircuitBreakerState(name, state string) {
	value := 0.0
	switch state {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	m.circuitBreakerState.WithLabelValues(name).Set(value)
}

// SetRedisDegraded flips the degraded-mode gauge
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

func (m *Metrics) RecordRedisHealthCheck() {
	m.redisHealthCheck.Inc()
}
