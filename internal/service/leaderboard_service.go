package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yourusername/lapwatch/internal/cache"
	"github.com/yourusername/lapwatch/internal/leaderboard"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
)

// LeaderboardOptions configures derived read models
type LeaderboardOptions struct {
	AgeBands leaderboard.AgeBands
	TeamSize int
	// LapsTTL is the lifetime of cached lap histories. Zero uses the cache default.
	LapsTTL time.Duration
}

// LeaderboardService serves the cached read path
type LeaderboardService struct {
	races       repository.RaceRepository
	competitors repository.CompetitorRepository
	laps        repository.LapRepository
	cache       cache.Store
	opts        LeaderboardOptions
	group       singleflight.Group
	logger      *logrus.Entry
	now         func() time.Time
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(repos *repository.Repositories, store cache.Store, opts LeaderboardOptions, log *logrus.Logger) *LeaderboardService {
	if opts.TeamSize <= 0 {
		opts.TeamSize = leaderboard.DefaultTeamSize
	}
	return &LeaderboardService{
		races:       repos.Race,
		competitors: repos.Competitor,
		laps:        repos.Lap,
		cache:       store,
		opts:        opts,
		logger:      logger.Component(log, "leaderboard"),
		now:         time.Now,
	}
}

// Get returns the leaderboard of a race for filter. A cached copy is served
// while fresh; concurrent misses for the same key share one computation.
func (s *LeaderboardService) Get(ctx context.Context, raceID uuid.UUID, filter models.LeaderboardFilter) (*models.Leaderboard, error) {
	key := cache.LeaderboardKey(raceID, string(filter))
	if v, ok := s.cache.Get(key); ok {
		if board, ok := v.(*models.Leaderboard); ok {
			return board, nil
		}
	}

	// Computations started before an invalidation are neither shared with
	// later callers nor cached.
	epoch := s.cache.Epoch()
	v, err, _ := s.group.Do(fmt.Sprintf("%s@%d", key, epoch), func() (interface{}, error) {
		race, err := s.loadRace(ctx, raceID)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		entries, err := s.compute(ctx, race)
		if err != nil {
			return nil, err
		}
		metrics.RecordLeaderboardComputation(string(filter), time.Since(start).Seconds())

		board := &models.Leaderboard{
			RaceID:        raceID,
			Filter:        filter,
			State:         race.State,
			LastDataFetch: race.LastDataFetch,
			ComputedAt:    s.now(),
			Entries:       leaderboard.Filter(entries, filter),
		}
		if board.Entries == nil {
			board.Entries = []models.LeaderboardEntry{}
		}
		s.cache.SetAt(epoch, key, board, 0)
		return board, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Leaderboard), nil
}

// Compute returns the full overall ranking straight from storage
func (s *LeaderboardService) Compute(ctx context.Context, raceID uuid.UUID) ([]models.LeaderboardEntry, error) {
	race, err := s.loadRace(ctx, raceID)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, race)
}

func (s *LeaderboardService) compute(ctx context.Context, race *models.Race) ([]models.LeaderboardEntry, error) {
	const op = "compute leaderboard"

	competitors, err := s.competitors.ListByRace(ctx, race.ID)
	if err != nil {
		return nil, models.NewStorageError(op, "failed to load competitors", err)
	}
	laps, err := s.laps.ListLatest(ctx, race.ID)
	if err != nil {
		return nil, models.NewStorageError(op, "failed to load laps", err)
	}

	entries := leaderboard.Compute(competitors, laps, leaderboard.Options{
		AgeBands:     s.opts.AgeBands,
		RaceDuration: race.Duration(),
	})

	leaderKm := 0.0
	if leader := leaderboard.Leader(entries, ""); leader != nil {
		leaderKm = leader.DistanceKm
	}
	metrics.UpdateLeaderboardGauges(race.ID.String(), len(entries), leaderKm)
	return entries, nil
}

// LapHistory returns one competitor's laps in order
func (s *LeaderboardService) LapHistory(ctx context.Context, raceID uuid.UUID, bib int) ([]*models.Lap, error) {
	key := cache.LapsKey(raceID, bib)
	if v, ok := s.cache.Get(key); ok {
		if laps, ok := v.([]*models.Lap); ok {
			return laps, nil
		}
	}

	epoch := s.cache.Epoch()
	laps, err := s.laps.ListByBib(ctx, raceID, bib)
	if err != nil {
		return nil, models.NewStorageError("lap history", "failed to load laps", err)
	}
	if laps == nil {
		laps = []*models.Lap{}
	}
	s.cache.SetAt(epoch, key, laps, s.opts.LapsTTL)
	return laps, nil
}

// Teams returns the nationality rollup for gender
func (s *LeaderboardService) Teams(ctx context.Context, raceID uuid.UUID, gender models.Gender) ([]models.TeamStanding, error) {
	key := cache.TeamsKey(raceID, string(gender))
	if v, ok := s.cache.Get(key); ok {
		if teams, ok := v.([]models.TeamStanding); ok {
			return teams, nil
		}
	}

	epoch := s.cache.Epoch()
	board, err := s.Get(ctx, raceID, models.FilterOverall)
	if err != nil {
		return nil, err
	}
	teams := leaderboard.Teams(board.Entries, gender, s.opts.TeamSize)
	s.cache.SetAt(epoch, key, teams, 0)
	return teams, nil
}

// Chart returns the lap progression of each requested bib
func (s *LeaderboardService) Chart(ctx context.Context, raceID uuid.UUID, bibs []int) ([]models.ChartSeries, error) {
	if len(bibs) == 0 {
		return nil, models.NewValidationError("chart", "at least one bib is required")
	}

	key := cache.ChartKey(raceID, bibs)
	if v, ok := s.cache.Get(key); ok {
		if series, ok := v.([]models.ChartSeries); ok {
			return series, nil
		}
	}

	epoch := s.cache.Epoch()
	competitors, err := s.competitors.ListByRace(ctx, raceID)
	if err != nil {
		return nil, models.NewStorageError("chart", "failed to load competitors", err)
	}
	names := make(map[int]string, len(competitors))
	for _, c := range competitors {
		names[c.Bib] = c.DisplayName()
	}

	series := make([]models.ChartSeries, 0, len(bibs))
	for _, bib := range bibs {
		laps, err := s.LapHistory(ctx, raceID, bib)
		if err != nil {
			return nil, err
		}

		name, ok := names[bib]
		if !ok {
			name = fmt.Sprintf("Bib %d", bib)
		}
		points := make([]models.ChartPoint, 0, len(laps))
		for _, l := range laps {
			avg := l.AvgPaceSec
			if avg == 0 && l.DistanceKm > 0 {
				avg = l.RaceElapsedSec / l.DistanceKm
			}
			points = append(points, models.ChartPoint{
				Lap:            l.Lap,
				RaceElapsedSec: l.RaceElapsedSec,
				DistanceKm:     l.DistanceKm,
				AvgPaceSec:     avg,
			})
		}
		series = append(series, models.ChartSeries{Bib: bib, Name: name, Points: points})
	}

	s.cache.SetAt(epoch, key, series, 0)
	return series, nil
}

// Countdown predicts the next timing mat passing of each requested bib from
// its recent lap durations. Bibs without laps are left out.
func (s *LeaderboardService) Countdown(ctx context.Context, raceID uuid.UUID, bibs []int) ([]models.PassingPrediction, error) {
	if len(bibs) == 0 {
		return nil, models.NewValidationError("countdown", "at least one bib is required")
	}

	board, err := s.Get(ctx, raceID, models.FilterOverall)
	if err != nil {
		return nil, err
	}

	now := s.now()
	predictions := make([]models.PassingPrediction, 0, len(bibs))
	for _, e := range leaderboard.Watchlist(board.Entries, bibs) {
		if !e.HasLaps() {
			continue
		}
		laps, err := s.LapHistory(ctx, raceID, e.Bib)
		if err != nil {
			return nil, err
		}
		durations := make([]float64, 0, len(laps))
		for _, l := range laps {
			durations = append(durations, l.LapDurationSec)
		}
		if p, ok := leaderboard.PredictPassing(&e, durations, now); ok {
			predictions = append(predictions, p)
		}
	}
	return predictions, nil
}

// RaceInfo returns the race with its lifecycle state
func (s *LeaderboardService) RaceInfo(ctx context.Context, raceID uuid.UUID) (*models.Race, error) {
	key := cache.ConfigKey(raceID)
	if v, ok := s.cache.Get(key); ok {
		if race, ok := v.(*models.Race); ok {
			return race, nil
		}
	}

	epoch := s.cache.Epoch()
	race, err := s.loadRace(ctx, raceID)
	if err != nil {
		return nil, err
	}
	s.cache.SetAt(epoch, key, race, 0)
	return race, nil
}

// ActiveRace returns the race currently flagged active
func (s *LeaderboardService) ActiveRace(ctx context.Context) (*models.Race, error) {
	race, err := s.races.GetActive(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveRace) {
			return nil, models.NewNotFoundError("active race", "no active race", err)
		}
		return nil, models.NewStorageError("active race", "failed to load active race", err)
	}
	return race, nil
}

// SetRaceState changes the lifecycle state and drops the cached race info
func (s *LeaderboardService) SetRaceState(ctx context.Context, raceID uuid.UUID, state models.RaceState) error {
	const op = "set race state"

	if err := s.races.SetState(ctx, raceID, state); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewNotFoundError(op, "race not found", err)
		}
		return models.NewStorageError(op, "failed to update race state", err)
	}

	pattern := cache.RacePattern(raceID, cache.NamespaceConfig, cache.NamespaceLeaderboard)
	if _, err := s.cache.ClearMatching(pattern.String()); err != nil {
		s.cache.Clear()
	}
	s.logger.WithFields(logrus.Fields{"race_id": raceID, "state": state}).Info("Race state updated")
	return nil
}

func (s *LeaderboardService) loadRace(ctx context.Context, raceID uuid.UUID) (*models.Race, error) {
	race, err := s.races.GetByID(ctx, raceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewNotFoundError("load race", "race not found", err)
		}
		return nil, models.NewStorageError("load race", "failed to load race", err)
	}
	return race, nil
}
