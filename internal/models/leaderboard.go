package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LeaderboardFilter selects which competitors a leaderboard read returns
type LeaderboardFilter string

const (
	FilterOverall LeaderboardFilter = "overall"
	FilterMen     LeaderboardFilter = "men"
	FilterWomen   LeaderboardFilter = "women"
)

// ParseLeaderboardFilter parses a filter, defaulting to overall when empty.
func ParseLeaderboardFilter(s string) (LeaderboardFilter, error) {
	switch LeaderboardFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterOverall:
		return FilterOverall, nil
	case FilterMen:
		return FilterMen, nil
	case FilterWomen:
		return FilterWomen, nil
	}
	return "", fmt.Errorf("unknown leaderboard filter %q", s)
}

// Gender returns the gender a filter restricts to, or "" for overall
func (f LeaderboardFilter) Gender() Gender {
	switch f {
	case FilterMen:
		return GenderMale
	case FilterWomen:
		return GenderFemale
	}
	return ""
}

// PaceTrend compares the latest lap pace with the running average
type PaceTrend string

const (
	TrendUp     PaceTrend = "up"
	TrendDown   PaceTrend = "down"
	TrendStable PaceTrend = "stable"
)

// LeaderboardEntry is the derived ranking row of one competitor
type LeaderboardEntry struct {
	Bib          int        `json:"bib"`
	Name         string     `json:"name"`
	Gender       Gender     `json:"gender"`
	Nationality  string     `json:"nationality"`
	AgeGroup     string     `json:"age_group,omitempty"`
	Lap          int        `json:"lap"`
	DistanceKm   float64    `json:"distance_km"`
	RaceTimeSec  float64    `json:"race_time_sec"`
	LapTimeSec   float64    `json:"lap_time_sec"`
	LapPaceSec   float64    `json:"lap_pace_sec"`
	AvgPaceSec   float64    `json:"avg_pace_sec"`
	ProjectedKm  float64    `json:"projected_km"`
	Trend        PaceTrend  `json:"trend,omitempty"`
	GapKm        float64    `json:"gap_km"`
	GapSec       float64    `json:"gap_sec"`
	Rank         int        `json:"rank"`
	GenderRank   int        `json:"gender_rank"`
	AgeGroupRank int        `json:"age_group_rank"`
	LastPassing  *time.Time `json:"last_passing,omitempty"`
}

// HasLaps reports whether the competitor has completed any lap
func (e *LeaderboardEntry) HasLaps() bool {
	return e.Lap > 0
}

// Leaderboard is the response of a leaderboard read
type Leaderboard struct {
	RaceID        uuid.UUID          `json:"race_id"`
	Filter        LeaderboardFilter  `json:"filter"`
	State         RaceState          `json:"race_state"`
	LastDataFetch *time.Time         `json:"last_data_fetch"`
	ComputedAt    time.Time          `json:"computed_at"`
	Entries       []LeaderboardEntry `json:"entries"`
}

// PassingPrediction is the expected next timing mat passing of a competitor
type PassingPrediction struct {
	Bib             int       `json:"bib"`
	Name            string    `json:"name"`
	Lap             int       `json:"lap"`
	LastPassing     time.Time `json:"last_passing"`
	PredictedLapSec float64   `json:"predicted_lap_sec"`
	Confidence      float64   `json:"confidence"`
	NextPassing     time.Time `json:"next_passing"`
	// SecondsUntil goes negative once the predicted passing is overdue.
	SecondsUntil float64 `json:"seconds_until"`
}

// TeamStanding is a nationality rollup for one gender
type TeamStanding struct {
	Rank         int     `json:"rank"`
	Nationality  string  `json:"nationality"`
	Gender       Gender  `json:"gender"`
	TotalKm      float64 `json:"total_km"`
	CountingBibs []int   `json:"counting_bibs"`
	MemberCount  int     `json:"member_count"`
}

// ChartPoint is one lap in a chart series
type ChartPoint struct {
	Lap            int     `json:"lap"`
	RaceElapsedSec float64 `json:"race_elapsed_sec"`
	DistanceKm     float64 `json:"distance_km"`
	AvgPaceSec     float64 `json:"avg_pace_sec"`
}

// ChartSeries is the lap progression of one competitor
type ChartSeries struct {
	Bib    int          `json:"bib"`
	Name   string       `json:"name"`
	Points []ChartPoint `json:"points"`
}
