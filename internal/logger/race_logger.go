// Package logger provides the race audit trail.
package logger

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RaceLogger records domain audit lines for race data changes.
type RaceLogger struct {
	*logrus.Entry
}

// NewRaceLogger creates a new race audit logger.
func NewRaceLogger(baseLogger *logrus.Logger) *RaceLogger {
	return &RaceLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogLapIngested logs an accepted lap.
func (rl *RaceLogger) LogLapIngested(raceID uuid.UUID, bib, lap int, distanceKm, elapsedSec float64) {
	rl.WithFields(logrus.Fields{
		"race_id":     raceID.String(),
		"bib":         bib,
		"lap":         lap,
		"distance_km": distanceKm,
		"elapsed_sec": elapsedSec,
	}).Debug("Lap ingested")
}

// LogLapRejected logs a refused lap submission.
func (rl *RaceLogger) LogLapRejected(raceID uuid.UUID, bib, lap int, kind, reason string) {
	rl.WithFields(logrus.Fields{
		"race_id": raceID.String(),
		"bib":     bib,
		"lap":     lap,
		"kind":    kind,
		"reason":  reason,
	}).Warn("Lap rejected")
}

// LogRaceCleared logs a full clear of race data.
func (rl *RaceLogger) LogRaceCleared(raceID uuid.UUID, lapsDeleted int64) {
	rl.WithFields(logrus.Fields{
		"race_id":      raceID.String(),
		"laps_deleted": lapsDeleted,
	}).Warn("Race data cleared")
}

// LogRaceStateChange logs a lifecycle transition.
func (rl *RaceLogger) LogRaceStateChange(raceID uuid.UUID, oldState, newState string) {
	rl.WithFields(logrus.Fields{
		"race_id":   raceID.String(),
		"old_state": oldState,
		"new_state": newState,
	}).Info("Race state changed")
}

// LogMatchDecision logs the outcome of an identity match.
func (rl *RaceLogger) LogMatchDecision(competitorID uuid.UUID, bib int, decision string, registryID *int64, confidence float64, candidates int) {
	fields := logrus.Fields{
		"competitor_id": competitorID.String(),
		"bib":           bib,
		"decision":      decision,
		"confidence":    confidence,
		"candidates":    candidates,
	}
	if registryID != nil {
		fields["registry_id"] = *registryID
	}
	rl.WithFields(fields).Info("Match decision recorded")
}

// LogEventEmitted logs a newly persisted race event.
func (rl *RaceLogger) LogEventEmitted(raceID uuid.UUID, eventType, priority string, bibs []int, value float64, detectedAt time.Time) {
	rl.WithFields(logrus.Fields{
		"race_id":     raceID.String(),
		"event_type":  eventType,
		"priority":    priority,
		"bibs":        bibs,
		"value":       value,
		"detected_at": detectedAt.Unix(),
	}).Info("Race event emitted")
}
