package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay routing metrics
var (
	RelayEnvelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_envelopes_total",
		Help: "Envelopes handled by the relay",
	}, []string{"type", "outcome"}) // outcome: local, bus, offline, invalid

	RelayConnectionsReplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_replaced_total",
		Help: "Connections closed because the same user reconnected",
	})

	RelaySlowConsumerTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_slow_consumer_total",
		Help: "Connections dropped because their send queue was full",
	})

	RelayBusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bus_publish_total",
		Help: "Envelopes published to the cluster bus",
	}, []string{"bus", "status"})

	RelayBusReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bus_received_total",
		Help: "Envelopes received from the cluster bus",
	}, []string{"bus"})

	PresenceOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presence_online_users",
		Help: "Users connected to this relay node",
	})

	HTTPRequestTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_request_timeouts_total",
		Help: "REST requests that ran past their deadline",
	}, []string{"method", "endpoint"})
)
