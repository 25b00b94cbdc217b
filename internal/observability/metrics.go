package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec

	roomsCreatedTotal    prometheus.Counter
	chatMessagesSent     *prometheus.CounterVec
	emergencyAlertsTotal prometheus.Counter
	chatConnectionsTotal prometheus.Counter
	hubSubscribersActive prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railcomm_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railcomm_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railcomm_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		roomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railcomm_rooms_created_total",
			Help: "Total number of chat rooms created.",
		})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railcomm_chat_messages_sent_total",
			Help: "Total number of chat messages appended, by type and priority.",
		}, []string{"type", "priority"})

		emergencyAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railcomm_emergency_alerts_total",
			Help: "Total number of emergency alerts dispatched.",
		})

		chatConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railcomm_chat_connections_total",
			Help: "Total number of chat websocket connections accepted.",
		})

		hubSubscribersActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railcomm_hub_subscribers_active",
			Help: "Number of live hub subscriptions (room lists and rooms).",
		})

		prometheus.MustRegister(
			requestsTotal,
			latencySeconds,
			errorsTotal,
			roomsCreatedTotal,
			chatMessagesSent,
			emergencyAlertsTotal,
			chatConnectionsTotal,
			hubSubscribersActive,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// RoomsCreatedTotal exposes the room creation counter.
func RoomsCreatedTotal() prometheus.Counter {
	RegisterMetrics()
	return roomsCreatedTotal
}

// ChatMessagesSent exposes the message append counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// EmergencyAlertsTotal exposes the emergency alert counter.
func EmergencyAlertsTotal() prometheus.Counter {
	RegisterMetrics()
	return emergencyAlertsTotal
}

// ChatConnectionsTotal exposes the websocket connection counter.
func ChatConnectionsTotal() prometheus.Counter {
	RegisterMetrics()
	return chatConnectionsTotal
}

// HubSubscribersActive exposes the live subscription gauge.
func HubSubscribersActive() prometheus.Gauge {
	RegisterMetrics()
	return hubSubscribersActive
}
