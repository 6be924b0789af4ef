// Package leaderboard derives ranked standings from lap records. Everything
// here is a pure function of its inputs.
package leaderboard

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yourusername/lapwatch/internal/models"
)

// Options tunes leaderboard computation
type Options struct {
	AgeBands     AgeBands
	RaceDuration time.Duration
}

// Compute builds one entry per competitor from laps. Only the lap with the
// highest index of each bib is used. Bibs that have laps but are missing from
// the roster are still ranked overall; they get no gender or age group rank.
// A race without any laps has an empty leaderboard.
func Compute(competitors []*models.Competitor, laps []*models.Lap, opts Options) []models.LeaderboardEntry {
	latest := LatestLaps(laps)
	if len(latest) == 0 {
		return []models.LeaderboardEntry{}
	}
	duration := opts.RaceDuration
	if duration <= 0 {
		duration = models.DefaultRaceDuration
	}

	entries := make([]models.LeaderboardEntry, 0, len(competitors)+len(latest))
	seen := make(map[int]bool, len(competitors))

	for _, c := range competitors {
		if seen[c.Bib] {
			continue
		}
		seen[c.Bib] = true

		e := models.LeaderboardEntry{
			Bib:         c.Bib,
			Name:        c.DisplayName(),
			Gender:      c.Gender,
			Nationality: c.Nationality,
			AgeGroup:    opts.AgeBands.Lookup(c.Age),
		}
		if lap, ok := latest[c.Bib]; ok {
			applyLap(&e, lap, duration)
		}
		entries = append(entries, e)
	}

	for bib, lap := range latest {
		if seen[bib] {
			continue
		}
		e := models.LeaderboardEntry{Bib: bib, Name: fmt.Sprintf("Bib %d", bib)}
		applyLap(&e, lap, duration)
		entries = append(entries, e)
	}

	Rank(entries)
	return entries
}

// LatestLaps returns the lap with the maximum index for each bib
func LatestLaps(laps []*models.Lap) map[int]*models.Lap {
	latest := make(map[int]*models.Lap)
	for _, lap := range laps {
		if cur, ok := latest[lap.Bib]; !ok || lap.Lap > cur.Lap {
			latest[lap.Bib] = lap
		}
	}
	return latest
}

func applyLap(e *models.LeaderboardEntry, lap *models.Lap, duration time.Duration) {
	e.Lap = lap.Lap
	e.DistanceKm = lap.DistanceKm
	e.RaceTimeSec = lap.RaceElapsedSec
	e.LapTimeSec = lap.LapDurationSec
	e.LapPaceSec = lap.LapPaceSec
	e.AvgPaceSec = lap.AvgPaceSec
	if e.AvgPaceSec == 0 && lap.DistanceKm > 0 {
		e.AvgPaceSec = lap.RaceElapsedSec / lap.DistanceKm
	}
	e.ProjectedKm = Project(lap.DistanceKm, lap.RaceElapsedSec, duration)
	e.Trend = Trend(e.LapPaceSec, e.AvgPaceSec)
	passing := lap.Timestamp
	e.LastPassing = &passing
}

// Project extrapolates the distance covered at the current average speed to
// the full race duration.
func Project(distanceKm, elapsedSec float64, duration time.Duration) float64 {
	if elapsedSec <= 0 {
		return 0
	}
	projected := distanceKm / elapsedSec * duration.Seconds()
	return math.Round(projected*100) / 100
}

// trendThreshold is the relative pace change that counts as a trend
const trendThreshold = 0.05

// Trend reports whether the latest lap was faster (up) or slower (down) than
// the average pace by more than 5%.
func Trend(lapPaceSec, avgPaceSec float64) models.PaceTrend {
	if lapPaceSec <= 0 || avgPaceSec <= 0 {
		return models.TrendStable
	}
	ratio := lapPaceSec / avgPaceSec
	switch {
	case ratio < 1-trendThreshold:
		return models.TrendUp
	case ratio > 1+trendThreshold:
		return models.TrendDown
	}
	return models.TrendStable
}

// Gap returns the distance behind the leader and the time it would take to
// cover it at the competitor's own average pace.
func Gap(leaderKm float64, e *models.LeaderboardEntry) (km, sec float64) {
	km = math.Round((leaderKm-e.DistanceKm)*1000) / 1000
	if km <= 0 {
		return 0, 0
	}
	sec = math.Round(km*e.AvgPaceSec*10) / 10
	return km, sec
}

// Less orders a before b: laps before no laps, greater distance first, then
// lower race time, then bib.
func Less(a, b *models.LeaderboardEntry) bool {
	if a.HasLaps() != b.HasLaps() {
		return a.HasLaps()
	}
	if !a.HasLaps() {
		return a.Bib < b.Bib
	}
	if da, db := meters(a.DistanceKm), meters(b.DistanceKm); da != db {
		return da > db
	}
	if a.RaceTimeSec != b.RaceTimeSec {
		return a.RaceTimeSec < b.RaceTimeSec
	}
	return a.Bib < b.Bib
}

// meters compares distances at metre resolution so float noise from
// accumulated lap lengths does not split ties.
func meters(km float64) int64 {
	return int64(math.Round(km * 1000))
}

// Rank sorts entries in place and assigns overall, gender and age group
// ranks and the gap to the overall leader.
func Rank(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(&entries[i], &entries[j])
	})

	leaderKm := 0.0
	if len(entries) > 0 && entries[0].HasLaps() {
		leaderKm = entries[0].DistanceKm
	}

	genderCounts := make(map[models.Gender]int)
	groupCounts := make(map[string]int)
	for i := range entries {
		e := &entries[i]
		e.Rank = i + 1
		e.GapKm, e.GapSec = 0, 0
		if e.HasLaps() {
			e.GapKm, e.GapSec = Gap(leaderKm, e)
		}

		e.GenderRank = 0
		if e.Gender != "" {
			genderCounts[e.Gender]++
			e.GenderRank = genderCounts[e.Gender]
		}

		e.AgeGroupRank = 0
		if e.AgeGroup != "" {
			groupCounts[e.AgeGroup]++
			e.AgeGroupRank = groupCounts[e.AgeGroup]
		}
	}
}

// Filter returns the entries selected by f, keeping their ranks
func Filter(entries []models.LeaderboardEntry, f models.LeaderboardFilter) []models.LeaderboardEntry {
	gender := f.Gender()
	if gender == "" {
		return entries
	}
	out := make([]models.LeaderboardEntry, 0, len(entries)/2)
	for _, e := range entries {
		if e.Gender == gender {
			out = append(out, e)
		}
	}
	return out
}

// Watchlist keeps only the given bibs from an overall result
func Watchlist(entries []models.LeaderboardEntry, bibs []int) []models.LeaderboardEntry {
	want := make(map[int]bool, len(bibs))
	for _, b := range bibs {
		want[b] = true
	}
	out := make([]models.LeaderboardEntry, 0, len(bibs))
	for _, e := range entries {
		if want[e.Bib] {
			out = append(out, e)
		}
	}
	return out
}

// Leader returns the rank 1 entry among entries matching gender ("" for
// overall), or nil when nobody has completed a lap.
func Leader(entries []models.LeaderboardEntry, gender models.Gender) *models.LeaderboardEntry {
	for i := range entries {
		e := &entries[i]
		if !e.HasLaps() {
			continue
		}
		if gender == "" && e.Rank == 1 {
			return e
		}
		if gender != "" && e.Gender == gender && e.GenderRank == 1 {
			return e
		}
	}
	return nil
}

// ByBib indexes entries by bib
func ByBib(entries []models.LeaderboardEntry) map[int]*models.LeaderboardEntry {
	out := make(map[int]*models.LeaderboardEntry, len(entries))
	for i := range entries {
		out[entries[i].Bib] = &entries[i]
	}
	return out
}
