package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat pipeline metrics
var (
	ChatMessagePersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_persisted_total",
		Help: "Total number of messages persisted to Cassandra",
	}, []string{"status"})

	ChatMessageDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_delivered_total",
		Help: "Messages by delivery route",
	}, []string{"route"}) // "live", "push", "stored"

	ChatMessageDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_message_delivery_duration_seconds",
		Help:    "Time taken by each delivery step",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"step"}) // "persist", "summary", "deliver"

	CallLogEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_log_events_total",
		Help: "Call lifecycle events recorded from relayed signaling",
	}, []string{"event", "status"})
)
