// Package metrics defines event detector metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DetectorRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detector_runs_total",
		Help:      "Event detector runs by status",
	}, []string{"status"})

	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Race events persisted by type",
	}, []string{"type"})
)

var (
	DetectorRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detector_run_duration_seconds",
		Help:      "Duration of event detector runs in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	EventStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_stream_clients",
		Help:      "Connected event stream websocket clients",
	})
)

// RecordDetectorRun records a detector run.
func RecordDetectorRun(status string, durationSeconds float64) {
	DetectorRunsTotal.WithLabelValues(status).Inc()
	DetectorRunDuration.Observe(durationSeconds)
}

// RecordEventEmitted records a newly persisted event.
func RecordEventEmitted(eventType string) {
	EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// SetEventStreamClients sets the connected websocket client count.
func SetEventStreamClients(n int) {
	EventStreamClients.Set(float64(n))
}
