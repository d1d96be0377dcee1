// Package metrics provides Prometheus instrumentation for the chat
// backbone: gauges for live connections, counters for message outcomes at
// the gateway, and counters for the ingestion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aurora_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts inbound messages by outcome: "relayed",
	// "rate_limited", "dropped" (malformed or invalid frames), or
	// "failed" (bus publish error).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aurora_messages_total",
		Help: "Total number of inbound messages by outcome",
	}, []string{"outcome"})

	// BroadcastsTotal counts messages fanned out to local room members.
	BroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aurora_broadcasts_total",
		Help: "Total number of bus messages fanned out to local connections",
	})

	// HeartbeatTimeouts counts connections terminated by the heartbeat sweep.
	HeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aurora_heartbeat_timeouts_total",
		Help: "Total number of connections terminated by heartbeat timeout",
	})

	// IngestBatches counts ingestion batches by result: "persisted" or "failed".
	IngestBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aurora_ingest_batches_total",
		Help: "Total number of ingestion batches by result",
	}, []string{"result"})

	// IngestEntries counts individual log entries by outcome: "persisted"
	// or "skipped" (undecodable).
	IngestEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aurora_ingest_entries_total",
		Help: "Total number of log entries processed by the ingestion worker",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		BroadcastsTotal,
		HeartbeatTimeouts,
		IngestBatches,
		IngestEntries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
