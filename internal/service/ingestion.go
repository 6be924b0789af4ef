package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/lapwatch/internal/cache"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
)

// Namespaces invalidated by a new lap. Race config is unaffected.
var lapDerivedNamespaces = []string{
	cache.NamespaceLaps,
	cache.NamespaceLeaderboard,
	cache.NamespaceTeams,
	cache.NamespaceChart,
}

// IngestionService handles the lap write path
type IngestionService struct {
	races     repository.RaceRepository
	laps      repository.LapRepository
	snapshots repository.SnapshotRepository
	locker    repository.RaceLocker
	cache     cache.Store
	validator *LapValidator
	audit     *logger.RaceLogger
	logger    *logrus.Entry
	now       func() time.Time
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repos *repository.Repositories, store cache.Store, log *logrus.Logger) *IngestionService {
	return &IngestionService{
		races:     repos.Race,
		laps:      repos.Lap,
		snapshots: repos.Snapshot,
		locker:    repos.Locker,
		cache:     store,
		validator: NewLapValidator(),
		audit:     logger.NewRaceLogger(log),
		logger:    logger.Component(log, "ingestion"),
		now:       time.Now,
	}
}

// IngestLap validates and stores one lap, then invalidates the race's derived
// cache entries. A lap that already exists yields a conflict and leaves the
// stored row untouched.
func (s *IngestionService) IngestLap(ctx context.Context, raceID uuid.UUID, payload *models.LapPayload) (*models.Lap, error) {
	start := time.Now()

	lap, err := s.ingest(ctx, raceID, payload)
	metrics.RecordLap(lapResult(err), time.Since(start).Seconds())
	if err != nil {
		bib, index := payloadIdentity(payload)
		var typed *models.Error
		if errors.As(err, &typed) && (typed.Kind == models.KindValidation || typed.Kind == models.KindConflict) {
			reason := typed.Message
			if len(typed.Details) > 0 {
				reason = strings.Join(typed.Details, "; ")
			}
			s.audit.LogLapRejected(raceID, bib, index, string(typed.Kind), reason)
		} else {
			s.logger.WithError(err).WithField("race_id", raceID).Error("Lap ingestion failed")
		}
		return nil, err
	}

	s.invalidate(raceID)
	s.audit.LogLapIngested(raceID, lap.Bib, lap.Lap, lap.DistanceKm, lap.RaceElapsedSec)
	return lap, nil
}

func (s *IngestionService) ingest(ctx context.Context, raceID uuid.UUID, payload *models.LapPayload) (*models.Lap, error) {
	const op = "ingest lap"

	if details := s.validator.ValidatePayload(payload); len(details) > 0 {
		return nil, models.NewValidationError(op, "invalid lap payload", details...)
	}
	lap, err := s.validator.ToLap(raceID, payload)
	if err != nil {
		return nil, models.NewValidationError(op, "invalid lap payload", err.Error())
	}

	if _, err := s.races.GetByID(ctx, raceID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewNotFoundError(op, "race not found", err)
		}
		return nil, models.NewStorageError(op, "failed to load race", err)
	}

	err = s.locker.WithRaceLock(ctx, raceID, func(ctx context.Context) error {
		stored, err := s.laps.ListByBib(ctx, raceID, lap.Bib)
		if err != nil {
			return models.NewStorageError(op, "failed to load laps", err)
		}
		for _, existing := range stored {
			if existing.Lap == lap.Lap {
				return models.NewConflictError(op, "lap already recorded", models.ErrDuplicateKey)
			}
		}
		if details := s.validator.ValidateSequence(lap, stored); len(details) > 0 {
			return models.NewValidationError(op, "lap breaks sequence", details...)
		}

		if err := s.laps.Insert(ctx, lap); err != nil {
			if errors.Is(err, models.ErrDuplicateKey) {
				return models.NewConflictError(op, "lap already recorded", err)
			}
			return models.NewStorageError(op, "failed to store lap", err)
		}

		if err := s.races.MarkDataReceived(ctx, raceID, s.now()); err != nil {
			return models.NewStorageError(op, "failed to update race", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lap, nil
}

func (s *IngestionService) invalidate(raceID uuid.UUID) {
	pattern := cache.RacePattern(raceID, lapDerivedNamespaces...)
	if _, err := s.cache.ClearMatching(pattern.String()); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate race cache, clearing everything")
		s.cache.Clear()
	}
}

// Backfill ingests a batch of laps one by one. Rejected laps are counted and
// skipped; only context cancellation stops the batch.
func (s *IngestionService) Backfill(ctx context.Context, raceID uuid.UUID, payloads []*models.LapPayload) (*IngestionMetrics, error) {
	report := NewIngestionMetrics()

	s.logger.WithFields(logrus.Fields{
		"race_id": raceID,
		"laps":    len(payloads),
	}).Info("Starting lap backfill")

	for _, payload := range payloads {
		if err := ctx.Err(); err != nil {
			report.Finish()
			return report, err
		}

		_, err := s.IngestLap(ctx, raceID, payload)
		switch models.KindOf(err) {
		case "":
			report.RecordIngested()
		case models.KindConflict:
			report.RecordDuplicate()
		case models.KindValidation:
			report.RecordValidationError()
		case models.KindNotFound:
			report.RecordError()
			report.Finish()
			return report, err
		default:
			report.RecordError()
		}
	}

	report.Finish()
	s.logger.WithField("race_id", raceID).Infof("Lap backfill complete: %s", report)
	return report, nil
}

// ClearRace deletes the race's laps and leaderboard baseline, resets it to
// not started and clears the whole cache. Detected events are kept.
func (s *IngestionService) ClearRace(ctx context.Context, raceID uuid.UUID) (int64, error) {
	const op = "clear race"

	race, err := s.races.GetByID(ctx, raceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.NewNotFoundError(op, "race not found", err)
		}
		return 0, models.NewStorageError(op, "failed to load race", err)
	}

	var deleted int64
	err = s.locker.WithRaceLock(ctx, raceID, func(ctx context.Context) error {
		n, err := s.laps.DeleteByRace(ctx, raceID)
		if err != nil {
			return models.NewStorageError(op, "failed to delete laps", err)
		}
		deleted = n

		if err := s.snapshots.DeleteByRace(ctx, raceID); err != nil {
			return models.NewStorageError(op, "failed to delete leaderboard snapshot", err)
		}
		if err := s.races.Reset(ctx, raceID); err != nil {
			return models.NewStorageError(op, "failed to reset race", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.cache.Clear()
	metrics.RecordRaceClear()
	s.audit.LogRaceCleared(raceID, deleted)
	if race.State != models.RaceStateNotStarted {
		s.audit.LogRaceStateChange(raceID, string(race.State), string(models.RaceStateNotStarted))
	}
	return deleted, nil
}

func lapResult(err error) string {
	switch models.KindOf(err) {
	case "":
		return metrics.LapResultIngested
	case models.KindConflict:
		return metrics.LapResultDuplicate
	case models.KindValidation, models.KindNotFound:
		return metrics.LapResultRejected
	}
	return metrics.LapResultError
}

func payloadIdentity(p *models.LapPayload) (bib, lap int) {
	if p == nil {
		return 0, 0
	}
	if p.Bib != nil {
		bib = *p.Bib
	}
	if p.Lap != nil {
		lap = *p.Lap
	}
	return bib, lap
}
