package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/yourusername/lapwatch/internal/models"
)

// Accepted lap timestamp layouts. Zone-less values are taken as UTC.
var lapTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// LapValidator validates lap payloads
type LapValidator struct {
	validate *validator.Validate
}

// NewLapValidator creates a new lap validator
func NewLapValidator() *LapValidator {
	v := validator.New()
	if err := v.RegisterValidation("isotime", validateISOTime); err != nil {
		panic(fmt.Sprintf("failed to register isotime validator: %v", err))
	}
	return &LapValidator{validate: v}
}

func validateISOTime(fl validator.FieldLevel) bool {
	_, err := parseLapTime(fl.Field().String())
	return err == nil
}

func parseLapTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range lapTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// ValidatePayload checks structural completeness and returns one message per
// failed field
func (v *LapValidator) ValidatePayload(p *models.LapPayload) []string {
	if p == nil {
		return []string{"payload is required"}
	}

	err := v.validate.Struct(p)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}

	var errors []string
	for _, fe := range validationErrors {
		field := jsonFieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			errors = append(errors, fmt.Sprintf("%s is required", field))
		case "gt":
			errors = append(errors, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "gte":
			errors = append(errors, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "isotime":
			errors = append(errors, fmt.Sprintf("%s must be an ISO-8601 timestamp", field))
		default:
			errors = append(errors, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return errors
}

// ToLap converts a validated payload into a lap of raceID
func (v *LapValidator) ToLap(raceID uuid.UUID, p *models.LapPayload) (*models.Lap, error) {
	ts, err := parseLapTime(p.Timestamp)
	if err != nil {
		return nil, err
	}

	lap := &models.Lap{
		RaceID:         raceID,
		Bib:            *p.Bib,
		Lap:            *p.Lap,
		LapDurationSec: *p.LapDurationSec,
		RaceElapsedSec: *p.RaceElapsedSec,
		DistanceKm:     *p.DistanceKm,
		Timestamp:      ts,
	}
	if p.LapPaceSec != nil {
		lap.LapPaceSec = *p.LapPaceSec
	}
	if p.AvgPaceSec != nil {
		lap.AvgPaceSec = *p.AvgPaceSec
	}
	return lap, nil
}

// ValidateSequence checks lap against the stored laps of the same bib.
// Distance and elapsed time must not decrease in lap order.
func (v *LapValidator) ValidateSequence(lap *models.Lap, stored []*models.Lap) []string {
	var prev, next *models.Lap
	for _, s := range stored {
		switch {
		case s.Lap < lap.Lap && (prev == nil || s.Lap > prev.Lap):
			prev = s
		case s.Lap > lap.Lap && (next == nil || s.Lap < next.Lap):
			next = s
		}
	}

	var errors []string
	if prev != nil {
		if lap.DistanceKm < prev.DistanceKm {
			errors = append(errors, fmt.Sprintf("distance_km %.3f is below lap %d distance %.3f", lap.DistanceKm, prev.Lap, prev.DistanceKm))
		}
		if lap.RaceElapsedSec < prev.RaceElapsedSec {
			errors = append(errors, fmt.Sprintf("race_elapsed_sec %.1f is below lap %d elapsed %.1f", lap.RaceElapsedSec, prev.Lap, prev.RaceElapsedSec))
		}
	}
	if next != nil {
		if lap.DistanceKm > next.DistanceKm {
			errors = append(errors, fmt.Sprintf("distance_km %.3f exceeds lap %d distance %.3f", lap.DistanceKm, next.Lap, next.DistanceKm))
		}
		if lap.RaceElapsedSec > next.RaceElapsedSec {
			errors = append(errors, fmt.Sprintf("race_elapsed_sec %.1f exceeds lap %d elapsed %.1f", lap.RaceElapsedSec, next.Lap, next.RaceElapsedSec))
		}
	}
	return errors
}

var jsonFieldNames = map[string]string{
	"Bib":            "bib",
	"Lap":            "lap",
	"LapDurationSec": "lap_duration_sec",
	"RaceElapsedSec": "race_elapsed_sec",
	"DistanceKm":     "distance_km",
	"LapPaceSec":     "lap_pace_sec",
	"AvgPaceSec":     "avg_pace_sec",
	"Timestamp":      "timestamp",
}

func jsonFieldName(field string) string {
	if name, ok := jsonFieldNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}
