package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lapwatch/internal/cache"
	"github.com/yourusername/lapwatch/internal/leaderboard"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type testEnv struct {
	repos       *repository.Repositories
	cache       *cache.Cache
	clock       *fakeClock
	ingestion   *IngestionService
	leaderboard *LeaderboardService
	race        *models.Race
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	repos := repository.NewMemoryRepositories()
	store := cache.New(cache.WithClock(clock.Now))
	log := newTestLogger()

	race := &models.Race{Name: "Spring 24h", DurationHours: 24}
	require.NoError(t, repos.Race.Create(context.Background(), race))

	ingestion := NewIngestionService(repos, store, log)
	ingestion.now = clock.Now

	board := NewLeaderboardService(repos, store, LeaderboardOptions{
		AgeBands: leaderboard.AgeBands{
			{Name: "U35", MinAge: 0, MaxAge: 34},
			{Name: "35-49", MinAge: 35, MaxAge: 49},
			{Name: "50+", MinAge: 50, MaxAge: 120},
		},
		LapsTTL: time.Minute,
	}, log)
	board.now = clock.Now

	return &testEnv{
		repos:       repos,
		cache:       store,
		clock:       clock,
		ingestion:   ingestion,
		leaderboard: board,
		race:        race,
	}
}

func (e *testEnv) addCompetitor(t *testing.T, bib int, first, last string, gender models.Gender, nation string, age int) *models.Competitor {
	t.Helper()
	c := &models.Competitor{
		RaceID:      e.race.ID,
		Bib:         bib,
		FirstName:   first,
		LastName:    last,
		Gender:      gender,
		Nationality: nation,
		Age:         &age,
	}
	require.NoError(t, e.repos.Competitor.Create(context.Background(), c))
	return c
}

func payload(bib, lap int, distance, elapsed float64) *models.LapPayload {
	duration := 300.0
	return &models.LapPayload{
		Bib:            &bib,
		Lap:            &lap,
		LapDurationSec: &duration,
		RaceElapsedSec: &elapsed,
		DistanceKm:     &distance,
		Timestamp:      "2026-05-01T12:00:00Z",
	}
}
