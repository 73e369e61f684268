package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Socket Metrics
var (
	// SocketConnected is 1 while the shared socket is connected, 0 otherwise.
	SocketConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_socket_connected",
			Help: "Whether the real-time socket is connected (1) or not (0)",
		},
	)

	// SocketConnectErrors counts failed connection attempts.
	SocketConnectErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_socket_connect_errors_total",
			Help: "Total failed real-time socket connection attempts",
		},
	)

	// SocketEventsReceived counts events delivered by the server.
	SocketEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_socket_events_received_total",
			Help: "Total events received over the real-time socket by event name",
		},
		[]string{"event"},
	)

	// SocketEventsEmitted counts events written to the wire.
	SocketEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_socket_events_emitted_total",
			Help: "Total events emitted over the real-time socket by event name",
		},
		[]string{"event"},
	)

	// SocketBufferedPackets tracks packets queued while the socket is connecting.
	SocketBufferedPackets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_socket_buffered_packets",
			Help: "Packets waiting for the real-time socket to finish connecting",
		},
	)
)

// Documents API Metrics
var (
	// APIRequestsTotal counts documents API requests by endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_api_requests_total",
			Help: "Total documents API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks documents API latency in seconds.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_api_request_duration_seconds",
			Help:    "Documents API request duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	// APIUp is 1 while the last health check succeeded.
	APIUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_api_up",
			Help: "Whether the last backend health check succeeded (1) or not (0)",
		},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
