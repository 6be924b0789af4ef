package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
)

// countingLapRepository counts and slows down leaderboard lap reads
type countingLapRepository struct {
	repository.LapRepository
	calls atomic.Int32
	delay time.Duration
}

func (r *countingLapRepository) ListLatest(ctx context.Context, raceID uuid.UUID) ([]*models.Lap, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	return r.LapRepository.ListLatest(ctx, raceID)
}

// staleLapRepository reads laps, then holds the first leaderboard read until
// released so an ingest can land in between.
type staleLapRepository struct {
	repository.LapRepository
	calls   atomic.Int32
	read    chan struct{}
	release chan struct{}
}

func (r *staleLapRepository) ListLatest(ctx context.Context, raceID uuid.UUID) ([]*models.Lap, error) {
	laps, err := r.LapRepository.ListLatest(ctx, raceID)
	if r.calls.Add(1) == 1 {
		close(r.read)
		<-r.release
	}
	return laps, err
}

func TestLeaderboardEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 101, "Ana", "Silva", models.GenderFemale, "POR", 41)
	env.addCompetitor(t, 102, "Bo", "Berg", models.GenderMale, "SWE", 33)

	for lap := 1; lap <= 5; lap++ {
		_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(102, lap, 8.4*float64(lap), 2880*float64(lap)))
		require.NoError(t, err)
	}

	_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(101, 1, 8.0, 3600))
	require.NoError(t, err)

	board, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)

	assert.Equal(t, 102, board.Entries[0].Bib)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.InDelta(t, 42.0, board.Entries[0].DistanceKm, 1e-9)
	assert.Equal(t, 5, board.Entries[0].Lap)
	assert.Equal(t, 101, board.Entries[1].Bib)
	assert.Equal(t, 2, board.Entries[1].Rank)
	assert.Equal(t, "35-49", board.Entries[1].AgeGroup)
	assert.Equal(t, models.RaceStateLive, board.State)
	assert.NotNil(t, board.LastDataFetch)
	assert.True(t, env.clock.Now().Equal(board.ComputedAt))
}

func TestLeaderboardGenderFilterKeepsRanks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 1, "Ana", "Silva", models.GenderFemale, "POR", 41)
	env.addCompetitor(t, 2, "Bo", "Berg", models.GenderMale, "SWE", 33)
	env.addCompetitor(t, 3, "Cy", "Roe", models.GenderFemale, "USA", 52)

	_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(1, 1, 5.0, 1500))
	require.NoError(t, err)
	_, err = env.ingestion.IngestLap(ctx, env.race.ID, payload(2, 1, 6.0, 1500))
	require.NoError(t, err)
	_, err = env.ingestion.IngestLap(ctx, env.race.ID, payload(3, 1, 4.0, 1500))
	require.NoError(t, err)

	women, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterWomen)
	require.NoError(t, err)
	require.Len(t, women.Entries, 2)
	assert.Equal(t, 1, women.Entries[0].Bib)
	assert.Equal(t, 2, women.Entries[0].Rank)
	assert.Equal(t, 1, women.Entries[0].GenderRank)
	assert.Equal(t, 3, women.Entries[1].Bib)
	assert.Equal(t, 2, women.Entries[1].GenderRank)
}

func TestLeaderboardServedFromCacheUntilExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	counting := &countingLapRepository{LapRepository: env.repos.Lap}
	env.leaderboard.laps = counting

	first, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	second, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), counting.calls.Load())

	env.clock.Advance(30 * time.Second)
	_, err = env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	assert.Equal(t, int32(2), counting.calls.Load())
}

func TestLeaderboardConcurrentMissesComputeOnce(t *testing.T) {
	env := newTestEnv(t)
	counting := &countingLapRepository{LapRepository: env.repos.Lap, delay: 50 * time.Millisecond}
	env.leaderboard.laps = counting

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.leaderboard.Get(context.Background(), env.race.ID, models.FilterOverall)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), counting.calls.Load())
}

func TestLeaderboardRecomputedAfterIngest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 101, "Ana", "Silva", models.GenderFemale, "POR", 41)

	board, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	assert.Empty(t, board.Entries)

	_, err = env.ingestion.IngestLap(ctx, env.race.ID, payload(101, 1, 1.5, 300))
	require.NoError(t, err)

	board, err = env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	assert.Equal(t, 1, board.Entries[0].Lap)
}

func TestLeaderboardUnknownRace(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.leaderboard.Get(context.Background(), uuid.New(), models.FilterOverall)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestLapHistoryAndChart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 101, "Ana", "Silva", models.GenderFemale, "POR", 41)

	_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(101, 1, 1.5, 300))
	require.NoError(t, err)
	_, err = env.ingestion.IngestLap(ctx, env.race.ID, payload(101, 2, 3.0, 660))
	require.NoError(t, err)

	history, err := env.leaderboard.LapHistory(ctx, env.race.ID, 101)
	require.NoError(t, err)
	require.Len(t, history, 2)

	series, err := env.leaderboard.Chart(ctx, env.race.ID, []int{202, 101})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "Bib 202", series[0].Name)
	assert.Empty(t, series[0].Points)
	assert.Equal(t, "Ana Silva", series[1].Name)
	require.Len(t, series[1].Points, 2)
	assert.InDelta(t, 220.0, series[1].Points[1].AvgPaceSec, 1e-9)

	_, err = env.leaderboard.Chart(ctx, env.race.ID, nil)
	assert.True(t, models.IsValidation(err))
}

func TestTeams(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 1, "A", "One", models.GenderMale, "GBR", 30)
	env.addCompetitor(t, 2, "B", "Two", models.GenderMale, "GBR", 30)
	env.addCompetitor(t, 3, "C", "Three", models.GenderMale, "FRA", 30)

	_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(1, 1, 5.0, 1500))
	require.NoError(t, err)
	_, err = env.ingestion.IngestLap(ctx, env.race.ID, payload(2, 1, 4.0, 1500))
	require.NoError(t, err)
	_, err = env.ingestion.IngestLap(ctx, env.race.ID, payload(3, 1, 6.0, 1500))
	require.NoError(t, err)

	teams, err := env.leaderboard.Teams(ctx, env.race.ID, models.GenderMale)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "GBR", teams[0].Nationality)
	assert.InDelta(t, 9.0, teams[0].TotalKm, 1e-9)
	assert.Equal(t, 1, teams[0].Rank)
}

func TestSetRaceStateDropsCachedInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	race, err := env.leaderboard.RaceInfo(ctx, env.race.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStateNotStarted, race.State)

	require.NoError(t, env.leaderboard.SetRaceState(ctx, env.race.ID, models.RaceStateFinished))

	race, err = env.leaderboard.RaceInfo(ctx, env.race.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStateFinished, race.State)

	err = env.leaderboard.SetRaceState(ctx, uuid.New(), models.RaceStateLive)
	assert.True(t, models.IsNotFound(err))
}

func TestActiveRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.leaderboard.ActiveRace(ctx)
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, env.repos.Race.SetActive(ctx, env.race.ID))
	race, err := env.leaderboard.ActiveRace(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.race.ID, race.ID)
}

func TestLeaderboardComputedBeforeIngestIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 101, "Ana", "Silva", models.GenderFemale, "POR", 41)
	stale := &staleLapRepository{
		LapRepository: env.repos.Lap,
		read:          make(chan struct{}),
		release:       make(chan struct{}),
	}
	env.leaderboard.laps = stale

	done := make(chan *models.Leaderboard, 1)
	go func() {
		board, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
		assert.NoError(t, err)
		done <- board
	}()

	<-stale.read
	_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(101, 1, 1.5, 300))
	require.NoError(t, err)
	close(stale.release)

	first := <-done
	require.NotNil(t, first)
	assert.Empty(t, first.Entries)

	board, err := env.leaderboard.Get(ctx, env.race.ID, models.FilterOverall)
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, 1, board.Entries[0].Lap)
	assert.Equal(t, int32(2), stale.calls.Load())
}

func TestCountdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCompetitor(t, 101, "Ana", "Silva", models.GenderFemale, "POR", 41)
	env.addCompetitor(t, 102, "Bo", "Berg", models.GenderMale, "SWE", 33)
	env.addCompetitor(t, 103, "Cy", "Roe", models.GenderMale, "USA", 52)

	for lap := 1; lap <= 3; lap++ {
		_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(101, lap, 1.5*float64(lap), 300*float64(lap)))
		require.NoError(t, err)
	}
	_, err := env.ingestion.IngestLap(ctx, env.race.ID, payload(103, 1, 1.5, 320))
	require.NoError(t, err)

	// Payload passings are at 12:00:00; the test clock starts at 10:00.
	env.clock.Advance(2*time.Hour + time.Minute)

	predictions, err := env.leaderboard.Countdown(ctx, env.race.ID, []int{101, 102, 999})
	require.NoError(t, err)
	require.Len(t, predictions, 1)

	p := predictions[0]
	assert.Equal(t, 101, p.Bib)
	assert.Equal(t, "Ana Silva", p.Name)
	assert.Equal(t, 3, p.Lap)
	assert.Equal(t, 300.0, p.PredictedLapSec)
	assert.Equal(t, 240.0, p.SecondsUntil)
	assert.True(t, p.LastPassing.Add(5*time.Minute).Equal(p.NextPassing))

	_, err = env.leaderboard.Countdown(ctx, env.race.ID, nil)
	assert.True(t, models.IsValidation(err))
}
