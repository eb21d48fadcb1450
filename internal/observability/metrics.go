package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce               sync.Once
	httpRequestsTotal          *prometheus.CounterVec
	httpLatencySeconds         *prometheus.HistogramVec
	enrollmentOutcomesTotal    *prometheus.CounterVec
	directoryRequestsTotal     *prometheus.CounterVec
	rosterStreamConnections    prometheus.Gauge
	rosterEventsPublishedTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		enrollmentOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollment_outcomes_total",
			Help: "Enrollment decisions by operation and outcome.",
		}, []string{"operation", "outcome"})

		directoryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_directory_requests_total",
			Help: "Activity directory lookups by cache result.",
		}, []string{"result"})

		rosterStreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roster_stream_connections",
			Help: "Open websocket connections on the roster stream.",
		})

		rosterEventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_events_published_total",
			Help: "Roster events delivered to local subscribers by origin.",
		}, []string{"origin"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			enrollmentOutcomesTotal,
			directoryRequestsTotal,
			rosterStreamConnections,
			rosterEventsPublishedTotal,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// EnrollmentOutcomes exposes the enrollment decision counter.
func EnrollmentOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return enrollmentOutcomesTotal
}

// DirectoryRequests exposes the directory cache counter.
func DirectoryRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return directoryRequestsTotal
}

// RosterStreamConnections exposes the websocket connection gauge.
func RosterStreamConnections() prometheus.Gauge {
	RegisterMetrics()
	return rosterStreamConnections
}

// RosterEventsPublished exposes the roster event counter.
func RosterEventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return rosterEventsPublishedTotal
}
