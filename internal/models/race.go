package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RaceState is the lifecycle state of a race
type RaceState string

const (
	RaceStateNotStarted RaceState = "not_started"
	RaceStateLive       RaceState = "live"
	RaceStateFinished   RaceState = "finished"
)

// DefaultRaceDuration is used when a race has no configured duration
const DefaultRaceDuration = 24 * time.Hour

// Race represents a timed endurance race
type Race struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name" validate:"required"`
	StartTime     *time.Time `db:"start_time" json:"start_time"`
	DurationHours float64    `db:"duration_hours" json:"duration_hours" validate:"gte=0"`
	State         RaceState  `db:"state" json:"state" validate:"oneof=not_started live finished"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	LastDataFetch *time.Time `db:"last_data_fetch" json:"last_data_fetch"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Duration returns the scheduled race duration
func (r *Race) Duration() time.Duration {
	if r.DurationHours <= 0 {
		return DefaultRaceDuration
	}
	return time.Duration(r.DurationHours * float64(time.Hour))
}

// IsLive checks if the race is currently running
func (r *Race) IsLive() bool {
	return r.State == RaceStateLive
}

// ParseRaceState parses a lifecycle state. Hyphenated forms are accepted.
func ParseRaceState(s string) (RaceState, error) {
	switch RaceState(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")) {
	case RaceStateNotStarted:
		return RaceStateNotStarted, nil
	case RaceStateLive:
		return RaceStateLive, nil
	case RaceStateFinished:
		return RaceStateFinished, nil
	}
	return "", fmt.Errorf("unknown race state %q", s)
}
