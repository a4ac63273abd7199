// Package metrics exposes Prometheus instrumentation for the matching client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchclient_connection_state",
		Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchclient_reconnect_attempts_total",
		Help: "Total reconnection attempts",
	})

	ReconnectExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchclient_reconnect_exhausted_total",
		Help: "Times the reconnection schedule ran out of attempts",
	})

	// Queue metrics
	QueuedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchclient_queued_messages",
		Help: "Messages waiting in the outbound queue",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchclient_messages_sent_total",
		Help: "Messages successfully handed to the transport",
	}, []string{"priority"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchclient_messages_dropped_total",
		Help: "Messages dropped after exhausting send retries",
	}, []string{"priority"})

	// Timeout metrics
	TimeoutsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchclient_request_timeouts_total",
		Help: "Request timeouts that reached their deadline",
	})

	TimeoutsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchclient_request_timeouts_cancelled_total",
		Help: "Request timeouts cancelled before firing",
	})

	// State machine metrics
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchclient_state_transitions_total",
		Help: "Matching state transitions by outcome",
	}, []string{"from", "to", "outcome"})
)
