package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-service collectors wired into the HTTP and websocket layers.
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	rateLimitBlockedTotal *prometheus.CounterVec
}

// NewMetrics registers the service collectors on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(serviceName string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: labels,
		}),

		websocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "websocket_connections",
			Help:        "Number of active relay connections",
			ConstLabels: labels,
		}),
		websocketMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "websocket_messages_total",
			Help:        "Total number of relay frames",
			ConstLabels: labels,
		}, []string{"type", "direction"}),
		websocketErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "websocket_errors_total",
			Help:        "Total number of relay connection errors",
			ConstLabels: labels,
		}, []string{"error"}),

		pushNotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "push_notifications_total",
			Help:        "Total number of push notifications sent",
			ConstLabels: labels,
		}, []string{"type", "platform"}),
		pushNotificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "push_notifications_failed_total",
			Help:        "Total number of push notifications that failed",
			ConstLabels: labels,
		}, []string{"type", "platform"}),

		rateLimitBlockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "rate_limit_blocked_total",
			Help:        "Requests rejected by the rate limiter",
			ConstLabels: labels,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage counts a frame; direction is "in" or "out".
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

func (m *Metrics) RecordWebSocketError(err string) {
	m.websocketErrorsTotal.WithLabelValues(err).Inc()
}

func (m *Metrics) RecordPushNotification(notifType, platform string) {
	m.pushNotificationsTotal.WithLabelValues(notifType, platform).Inc()
}

func (m *Metrics) RecordPushNotificationFailure(notifType, platform string) {
	m.pushNotificationsFailed.WithLabelValues(notifType, platform).Inc()
}

func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}
