// Package metrics defines identity matcher metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Match decisions
const (
	MatchDecisionAccepted  = "accepted"
	MatchDecisionAmbiguous = "ambiguous"
	MatchDecisionNoResults = "no_results"
	MatchDecisionError     = "error"
	MatchDecisionManual    = "manual"
	MatchDecisionNoMatch   = "no_match"
	MatchDecisionUnmatch   = "unmatch"
	MatchDecisionKept      = "kept"
)

var (
	MatchDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_decisions_total",
		Help:      "Identity match decisions by outcome",
	}, []string{"decision"})

	RegistryCircuitOpenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_circuit_open_total",
		Help:      "Registry requests rejected by the open circuit breaker",
	})
)

var (
	MatchConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_top_confidence",
		Help:      "Confidence of the best candidate per match attempt",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	RegistryRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "registry_request_duration_seconds",
		Help:      "Registry request latency by endpoint and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "status"})
)

// RecordMatchDecision records a matcher outcome.
func RecordMatchDecision(decision string) {
	MatchDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordMatchConfidence records the best candidate score of an attempt.
func RecordMatchConfidence(confidence float64) {
	MatchConfidence.Observe(confidence)
}

// RecordRegistryRequest records a registry call.
func RecordRegistryRequest(endpoint, status string, durationSeconds float64) {
	RegistryRequestDuration.WithLabelValues(endpoint, status).Observe(durationSeconds)
}

// RecordRegistryCircuitOpen records a request short-circuited by the breaker.
func RecordRegistryCircuitOpen() {
	RegistryCircuitOpenTotal.Inc()
}
