package leaderboard

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lapwatch/internal/models"
)

var testRace = uuid.MustParse("6f1c2a7e-4b1d-4c55-9d7e-0a1b2c3d4e5f")

func competitor(bib int, gender models.Gender, nation string, age int) *models.Competitor {
	a := age
	return &models.Competitor{
		ID:          uuid.New(),
		RaceID:      testRace,
		Bib:         bib,
		FirstName:   "Runner",
		LastName:    string(rune('A' + bib%26)),
		Gender:      gender,
		Nationality: nation,
		Age:         &a,
		MatchStatus: models.MatchStatusUnmatched,
	}
}

func lap(bib, index int, distance, elapsed float64) *models.Lap {
	return &models.Lap{
		RaceID:         testRace,
		Bib:            bib,
		Lap:            index,
		LapDurationSec: elapsed / float64(index),
		RaceElapsedSec: elapsed,
		DistanceKm:     distance,
		Timestamp:      time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC).Add(time.Duration(elapsed) * time.Second),
	}
}

func TestComputeRankOrdering(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(1, models.GenderMale, "GER", 40),
		competitor(2, models.GenderMale, "GER", 40),
		competitor(3, models.GenderFemale, "FRA", 40),
	}
	laps := []*models.Lap{
		lap(1, 1, 10, 100), // A
		lap(2, 1, 10, 90),  // B
		lap(3, 1, 12, 200), // C
	}

	entries := Compute(competitors, laps, Options{})
	require.Len(t, entries, 3)

	assert.Equal(t, 3, entries[0].Bib, "more distance wins regardless of time")
	assert.Equal(t, 2, entries[1].Bib, "same distance, less time wins")
	assert.Equal(t, 1, entries[2].Bib)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
}

func TestComputeUsesLatestLap(t *testing.T) {
	competitors := []*models.Competitor{competitor(7, models.GenderMale, "GBR", 30)}
	laps := []*models.Lap{
		lap(7, 3, 4.5, 1500),
		lap(7, 1, 1.5, 500),
		lap(7, 2, 3.0, 1000),
	}

	entries := Compute(competitors, laps, Options{})
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Lap)
	assert.Equal(t, 4.5, entries[0].DistanceKm)
	assert.Equal(t, 1500.0, entries[0].RaceTimeSec)
	assert.InDelta(t, 1500.0/4.5, entries[0].AvgPaceSec, 1e-9)
	require.NotNil(t, entries[0].LastPassing)
}

func TestComputeZeroLapCompetitorsRankLast(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(10, models.GenderMale, "USA", 50),
		competitor(11, models.GenderFemale, "USA", 50),
		competitor(12, models.GenderMale, "USA", 50),
	}
	laps := []*models.Lap{lap(12, 1, 1.5, 600)}

	entries := Compute(competitors, laps, Options{})
	require.Len(t, entries, 3)
	assert.Equal(t, 12, entries[0].Bib)
	assert.False(t, entries[1].HasLaps())
	assert.False(t, entries[2].HasLaps())
	assert.Equal(t, 3, entries[2].Rank)
}

func TestComputeGenderAndAgeGroupRanks(t *testing.T) {
	bands := AgeBands{
		{Name: "U35", MinAge: 0, MaxAge: 34},
		{Name: "35-49", MinAge: 35, MaxAge: 49},
		{Name: "50+", MinAge: 50, MaxAge: 120},
	}
	competitors := []*models.Competitor{
		competitor(1, models.GenderMale, "GER", 30),
		competitor(2, models.GenderFemale, "GER", 40),
		competitor(3, models.GenderMale, "GER", 45),
		competitor(4, models.GenderFemale, "GER", 31),
		competitor(5, models.GenderMale, "GER", 55),
	}
	laps := []*models.Lap{
		lap(1, 10, 50, 18000),
		lap(2, 10, 48, 18000),
		lap(3, 10, 46, 18000),
		lap(4, 10, 44, 18000),
		lap(5, 10, 42, 18000),
	}

	entries := Compute(competitors, laps, Options{AgeBands: bands})
	byBib := ByBib(entries)

	assert.Equal(t, 1, byBib[1].GenderRank)
	assert.Equal(t, 2, byBib[3].GenderRank)
	assert.Equal(t, 3, byBib[5].GenderRank)
	assert.Equal(t, 1, byBib[2].GenderRank)
	assert.Equal(t, 2, byBib[4].GenderRank)

	assert.Equal(t, "U35", byBib[1].AgeGroup)
	assert.Equal(t, 1, byBib[1].AgeGroupRank)
	assert.Equal(t, 2, byBib[4].AgeGroupRank)
	assert.Equal(t, 1, byBib[2].AgeGroupRank)
	assert.Equal(t, 2, byBib[3].AgeGroupRank)
	assert.Equal(t, "50+", byBib[5].AgeGroup)
	assert.Equal(t, 1, byBib[5].AgeGroupRank)
}

func TestComputeUnknownBibRankedWithoutGroups(t *testing.T) {
	competitors := []*models.Competitor{competitor(1, models.GenderMale, "GER", 30)}
	laps := []*models.Lap{lap(1, 1, 1.5, 600), lap(99, 2, 3.0, 1100)}

	entries := Compute(competitors, laps, Options{})
	require.Len(t, entries, 2)
	assert.Equal(t, 99, entries[0].Bib)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 0, entries[0].GenderRank)
	assert.Equal(t, 1, entries[1].GenderRank)
}

func TestEndToEndRanking(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(101, models.GenderMale, "GER", 40),
		competitor(102, models.GenderMale, "GER", 40),
	}
	laps := []*models.Lap{
		lap(102, 5, 42.0, 14400),
		lap(101, 1, 8.0, 3600),
	}

	entries := Compute(competitors, laps, Options{})
	require.Len(t, entries, 2)
	assert.Equal(t, 102, entries[0].Bib)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 101, entries[1].Bib)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestDistanceTieAtMetreResolution(t *testing.T) {
	a := models.LeaderboardEntry{Bib: 1, Lap: 3, DistanceKm: 0.1 + 0.2, RaceTimeSec: 100}
	b := models.LeaderboardEntry{Bib: 2, Lap: 3, DistanceKm: 0.3, RaceTimeSec: 90}
	assert.True(t, Less(&b, &a))
}

func TestFilterAndWatchlist(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(1, models.GenderMale, "GER", 30),
		competitor(2, models.GenderFemale, "GER", 30),
		competitor(3, models.GenderMale, "GER", 30),
	}
	laps := []*models.Lap{lap(1, 1, 3, 900), lap(2, 1, 2, 900), lap(3, 1, 1, 900)}
	entries := Compute(competitors, laps, Options{})

	men := Filter(entries, models.FilterMen)
	require.Len(t, men, 2)
	assert.Equal(t, 1, men[0].Bib)
	assert.Equal(t, 3, men[1].Bib)
	assert.Equal(t, 3, men[1].Rank, "filtered entries keep their overall rank")

	women := Filter(entries, models.FilterWomen)
	require.Len(t, women, 1)

	assert.Len(t, Filter(entries, models.FilterOverall), 3)

	watched := Watchlist(entries, []int{3, 2})
	require.Len(t, watched, 2)
	assert.Equal(t, 2, watched[0].Bib)
	assert.Equal(t, 3, watched[1].Bib)
}

func TestLeader(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(1, models.GenderMale, "GER", 30),
		competitor(2, models.GenderFemale, "GER", 30),
	}
	assert.Nil(t, Leader(Compute(competitors, nil, Options{}), ""))

	entries := Compute(competitors, []*models.Lap{lap(1, 1, 3, 900), lap(2, 1, 2, 900)}, Options{})
	require.NotNil(t, Leader(entries, ""))
	assert.Equal(t, 1, Leader(entries, "").Bib)
	assert.Equal(t, 2, Leader(entries, models.GenderFemale).Bib)
}

func TestProject(t *testing.T) {
	assert.Equal(t, 240.0, Project(10, 3600, 24*time.Hour))
	assert.Equal(t, 0.0, Project(10, 0, 24*time.Hour))
}

func TestAgeBandsLookup(t *testing.T) {
	bands := AgeBands{{Name: "M40", MinAge: 40, MaxAge: 44}}
	forty := 40
	fifty := 50
	assert.Equal(t, "M40", bands.Lookup(&forty))
	assert.Equal(t, "", bands.Lookup(&fifty))
	assert.Equal(t, "", bands.Lookup(nil))
}

func TestComputeWithoutLapsIsEmpty(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(1, models.GenderMale, "GER", 30),
		competitor(2, models.GenderFemale, "GER", 30),
	}
	entries := Compute(competitors, nil, Options{})
	require.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name    string
		lapPace float64
		avgPace float64
		want    models.PaceTrend
	}{
		{name: "faster than average", lapPace: 340, avgPace: 360, want: models.TrendUp},
		{name: "slower than average", lapPace: 380, avgPace: 360, want: models.TrendDown},
		{name: "within five percent", lapPace: 370, avgPace: 360, want: models.TrendStable},
		{name: "no lap pace", lapPace: 0, avgPace: 360, want: models.TrendStable},
		{name: "no average", lapPace: 360, avgPace: 0, want: models.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Trend(tt.lapPace, tt.avgPace))
		})
	}
}

func TestComputeSetsTrendFromLatestLap(t *testing.T) {
	competitors := []*models.Competitor{competitor(4, models.GenderFemale, "JPN", 44)}
	latest := lap(4, 2, 3.0, 1000)
	latest.LapPaceSec = 300
	latest.AvgPaceSec = 333

	entries := Compute(competitors, []*models.Lap{latest}, Options{})
	require.Len(t, entries, 1)
	assert.Equal(t, models.TrendUp, entries[0].Trend)
}

func TestComputeGapToLeader(t *testing.T) {
	competitors := []*models.Competitor{
		competitor(1, models.GenderMale, "GER", 30),
		competitor(2, models.GenderFemale, "GER", 30),
		competitor(3, models.GenderFemale, "GER", 30),
	}
	laps := []*models.Lap{
		lap(1, 10, 10.0, 3600),
		lap(2, 9, 9.0, 3600),
	}

	entries := Compute(competitors, laps, Options{})
	byBib := ByBib(entries)

	tests := []struct {
		bib    int
		gapKm  float64
		gapSec float64
	}{
		{bib: 1, gapKm: 0, gapSec: 0},
		{bib: 2, gapKm: 1.0, gapSec: 400},
		{bib: 3, gapKm: 0, gapSec: 0},
	}
	for _, tt := range tests {
		e := byBib[tt.bib]
		require.NotNil(t, e)
		assert.InDelta(t, tt.gapKm, e.GapKm, 1e-9, "bib %d", tt.bib)
		assert.InDelta(t, tt.gapSec, e.GapSec, 1e-9, "bib %d", tt.bib)
	}
}

func TestPredictLapTime(t *testing.T) {
	tests := []struct {
		name       string
		laps       []float64
		wantSec    float64
		confidence float64
	}{
		{name: "no laps", laps: nil, wantSec: 0, confidence: 0},
		{name: "single lap", laps: []float64{310}, wantSec: 310, confidence: 0.5},
		{name: "two laps weigh the latest more", laps: []float64{300, 330}, wantSec: 320, confidence: 0.9 * 0.7},
		{name: "steady pace", laps: []float64{300, 300, 300, 300}, wantSec: 300, confidence: 0.9},
		{name: "slowing adds a tenth of the slope", laps: []float64{300, 310, 320, 330}, wantSec: 321, confidence: 0.9},
		{
			name:       "break lap is down-weighted",
			laps:       []float64{300, 300, 300, 300, 300, 1200},
			wantSec:    5220.0 / 15.6,
			confidence: 0.9,
		},
		{
			name:       "only the last six laps count",
			laps:       []float64{900, 900, 300, 300, 300, 300, 300, 300},
			wantSec:    300,
			confidence: 0.9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PredictLapTime(tt.laps)
			assert.InDelta(t, tt.wantSec, got.LapTimeSec, 1e-6)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestPredictPassing(t *testing.T) {
	last := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &models.LeaderboardEntry{Bib: 9, Name: "Runner J", Lap: 4, LastPassing: &last}

	p, ok := PredictPassing(e, []float64{300, 300, 300, 300}, last.Add(2*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 9, p.Bib)
	assert.Equal(t, 4, p.Lap)
	assert.Equal(t, 300.0, p.PredictedLapSec)
	assert.True(t, last.Add(5*time.Minute).Equal(p.NextPassing))
	assert.Equal(t, 180.0, p.SecondsUntil)

	p, ok = PredictPassing(e, []float64{300}, last.Add(6*time.Minute))
	require.True(t, ok)
	assert.Equal(t, -60.0, p.SecondsUntil)

	_, ok = PredictPassing(&models.LeaderboardEntry{Bib: 10}, []float64{300}, last)
	assert.False(t, ok)
	_, ok = PredictPassing(e, nil, last)
	assert.False(t, ok)
}
