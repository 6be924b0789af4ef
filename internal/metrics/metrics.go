// Package metrics provides the centralized Prometheus metrics registry for lapwatch.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lapwatch"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Lap ingestion results
const (
	LapResultIngested  = "ingested"
	LapResultDuplicate = "duplicate"
	LapResultRejected  = "rejected"
	LapResultError     = "error"
)

// Counter metrics
var (
	LapsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "laps_ingested_total",
		Help:      "Lap submissions by result",
	}, []string{"result"})
	RaceClearsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "race_clears_total",
		Help:      "Total number of race data clears",
	})
	LeaderboardComputationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_computations_total",
		Help:      "Leaderboard recomputations by filter",
	}, []string{"filter"})
)

// Gauge metrics
var (
	LeaderboardCompetitors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leaderboard_competitors",
		Help:      "Competitors on the last computed overall leaderboard",
	}, []string{"race_id"})
	LeaderDistanceKm = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_distance_km",
		Help:      "Distance of the overall leader",
	}, []string{"race_id"})
)

// Histogram metrics
var (
	LeaderboardComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "leaderboard_compute_duration_seconds",
		Help:      "Duration of leaderboard recomputation in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	LapIngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lap_ingest_duration_seconds",
		Help:      "Duration of lap ingestion in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(LapsIngestedTotal)
		registry.MustRegister(RaceClearsTotal)
		registry.MustRegister(LeaderboardComputationsTotal)

		registry.MustRegister(LeaderboardCompetitors)
		registry.MustRegister(LeaderDistanceKm)

		registry.MustRegister(LeaderboardComputeDuration)
		registry.MustRegister(LapIngestDuration)

		// Matcher metrics
		registry.MustRegister(MatchDecisionsTotal)
		registry.MustRegister(MatchConfidence)
		registry.MustRegister(RegistryRequestDuration)
		registry.MustRegister(RegistryCircuitOpenTotal)

		// Event detector metrics
		registry.MustRegister(DetectorRunsTotal)
		registry.MustRegister(DetectorRunDuration)
		registry.MustRegister(EventsEmittedTotal)
		registry.MustRegister(EventStreamClients)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler. Collectors registered on the
// default registry (process, Go runtime, cache lookups) are served too.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{GetRegistry(), prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}

// RecordLap records the outcome of one lap submission.
func RecordLap(result string, durationSeconds float64) {
	LapsIngestedTotal.WithLabelValues(result).Inc()
	LapIngestDuration.Observe(durationSeconds)
}

// RecordRaceClear records a race clear.
func RecordRaceClear() {
	RaceClearsTotal.Inc()
}

// RecordLeaderboardComputation records a leaderboard recompute.
func RecordLeaderboardComputation(filter string, durationSeconds float64) {
	LeaderboardComputationsTotal.WithLabelValues(filter).Inc()
	LeaderboardComputeDuration.Observe(durationSeconds)
}

// UpdateLeaderboardGauges sets the size and leader distance of a race's leaderboard.
func UpdateLeaderboardGauges(raceID string, competitors int, leaderKm float64) {
	LeaderboardCompetitors.WithLabelValues(raceID).Set(float64(competitors))
	LeaderDistanceKm.WithLabelValues(raceID).Set(leaderKm)
}
