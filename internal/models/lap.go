package models

import (
	"time"

	"github.com/google/uuid"
)

// Lap is one completed loop of the course for a competitor. Laps are never
// updated after insert.
type Lap struct {
	RaceID         uuid.UUID `db:"race_id" json:"race_id"`
	Bib            int       `db:"bib" json:"bib"`
	Lap            int       `db:"lap" json:"lap"`
	LapDurationSec float64   `db:"lap_duration_sec" json:"lap_duration_sec"`
	RaceElapsedSec float64   `db:"race_elapsed_sec" json:"race_elapsed_sec"`
	DistanceKm     float64   `db:"distance_km" json:"distance_km"`
	LapPaceSec     float64   `db:"lap_pace_sec" json:"lap_pace_sec"`
	AvgPaceSec     float64   `db:"avg_pace_sec" json:"avg_pace_sec"`
	Timestamp      time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// LapPayload is the wire form of a lap as delivered by the acquisition
// pipeline. Pointer fields distinguish missing values from zero.
type LapPayload struct {
	Bib            *int     `json:"bib" validate:"required,gt=0"`
	Lap            *int     `json:"lap" validate:"required,gte=1"`
	LapDurationSec *float64 `json:"lap_duration_sec" validate:"required,gt=0"`
	RaceElapsedSec *float64 `json:"race_elapsed_sec" validate:"required,gt=0"`
	DistanceKm     *float64 `json:"distance_km" validate:"required,gt=0"`
	LapPaceSec     *float64 `json:"lap_pace_sec" validate:"omitempty,gte=0"`
	AvgPaceSec     *float64 `json:"avg_pace_sec" validate:"omitempty,gte=0"`
	Timestamp      string   `json:"timestamp" validate:"required,isotime"`
}
