package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blinksend_relay_connected_peers",
			Help: "Number of registered peers",
		},
	)

	messagesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blinksend_relay_messages_forwarded_total",
			Help: "Total messages forwarded to a peer",
		},
		[]string{"type"},
	)

	chunkBytesForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blinksend_relay_chunk_bytes_forwarded_total",
			Help: "Total file chunk payload bytes forwarded",
		},
	)

	forwardErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blinksend_relay_forward_errors_total",
			Help: "Total messages that could not be forwarded",
		},
		[]string{"code"},
	)

	rosterBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blinksend_relay_roster_broadcasts_total",
			Help: "Total roster broadcasts",
		},
	)
)

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
