// Package events derives notable race events from leaderboard changes.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
	"github.com/yourusername/lapwatch/internal/tracing"
)

// LeaderboardSource computes the current uncached overall leaderboard
type LeaderboardSource interface {
	Compute(ctx context.Context, raceID uuid.UUID) ([]models.LeaderboardEntry, error)
}

// Publisher receives events after they are committed
type Publisher interface {
	Publish(event *models.RaceEvent)
}

// RulesFromConfig builds detection rules from the events section
func RulesFromConfig(cfg config.EventsConfig) Rules {
	rules := DefaultRules()
	if cfg.MilestoneKm > 0 {
		rules.MilestoneKm = cfg.MilestoneKm
	}
	if cfg.SignificantMovePositions > 0 {
		rules.MovePositions = cfg.SignificantMovePositions
	}
	if cfg.SignificantMoveTopN > 0 {
		rules.TopN = cfg.SignificantMoveTopN
	}
	if cfg.SignificantMoveTopGain > 0 {
		rules.TopGain = cfg.SignificantMoveTopGain
	}
	return rules
}

// RunResult describes one detector pass
type RunResult struct {
	RaceID     uuid.UUID
	Candidates int
	Emitted    []*models.RaceEvent
	Duration   time.Duration
}

// Detector compares the current leaderboard with the stored baseline and
// persists the events that have not been seen before
type Detector struct {
	board       LeaderboardSource
	races       repository.RaceRepository
	competitors repository.CompetitorRepository
	snapshots   repository.SnapshotRepository
	events      repository.EventRepository
	records     repository.RecordRepository
	locker      repository.RaceLocker
	publisher   Publisher
	rules       Rules
	audit       *logger.RaceLogger
	logger      *logrus.Entry
	now         func() time.Time
}

// NewDetector creates a new event detector. publisher may be nil.
func NewDetector(board LeaderboardSource, repos *repository.Repositories, publisher Publisher, rules Rules, log *logrus.Logger) *Detector {
	return &Detector{
		board:       board,
		races:       repos.Race,
		competitors: repos.Competitor,
		snapshots:   repos.Snapshot,
		events:      repos.Event,
		records:     repos.Record,
		locker:      repos.Locker,
		publisher:   publisher,
		rules:       rules,
		audit:       logger.NewRaceLogger(log),
		logger:      logger.Component(log, "event_detector"),
		now:         time.Now,
	}
}

// RunActive runs the detector for the active race. Having no active race is
// not an error; the result is nil.
func (d *Detector) RunActive(ctx context.Context) (*RunResult, error) {
	race, err := d.races.GetActive(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveRace) || errors.Is(err, models.ErrNotFound) {
			d.logger.Debug("No active race, skipping event detection")
			return nil, nil
		}
		return nil, models.NewStorageError("detect active race", "failed to load active race", err)
	}
	return d.Run(ctx, race.ID)
}

// Run performs one detection pass for a race. The read of the baseline, the
// event inserts and the baseline update happen under the race lock; events
// are published only after that commits.
func (d *Detector) Run(ctx context.Context, raceID uuid.UUID) (_ *RunResult, err error) {
	ctx, finish := tracing.StartSegment(ctx, "event-detection")
	defer func() { finish(err) }()
	tracing.AddAnnotation(ctx, "race_id", raceID.String())

	start := time.Now()
	result := &RunResult{RaceID: raceID}

	err = d.locker.WithRaceLock(ctx, raceID, func(ctx context.Context) error {
		emitted, candidates, err := d.detect(ctx, raceID)
		result.Emitted = emitted
		result.Candidates = candidates
		return err
	})
	result.Duration = time.Since(start)

	if err != nil {
		metrics.RecordDetectorRun("error", result.Duration.Seconds())
		d.logger.WithError(err).WithField("race_id", raceID).Error("Event detection failed")
		result.Emitted = nil
		return nil, err
	}
	metrics.RecordDetectorRun("success", result.Duration.Seconds())
	tracing.AddMetadata(ctx, "emitted", len(result.Emitted))

	for _, e := range result.Emitted {
		metrics.RecordEventEmitted(string(e.Type))
		d.audit.LogEventEmitted(raceID, string(e.Type), string(e.Priority), e.Bibs, e.Value, e.DetectedAt)
		if d.publisher != nil {
			d.publisher.Publish(e)
		}
	}

	d.logger.WithFields(logrus.Fields{
		"race_id":    raceID,
		"candidates": result.Candidates,
		"emitted":    len(result.Emitted),
		"duration":   result.Duration,
	}).Debug("Event detection completed")
	return result, nil
}

func (d *Detector) detect(ctx context.Context, raceID uuid.UUID) ([]*models.RaceEvent, int, error) {
	const op = "detect events"

	current, err := d.board.Compute(ctx, raceID)
	if err != nil {
		if models.KindOf(err) != models.KindInternal {
			return nil, 0, err
		}
		return nil, 0, models.NewStorageError(op, "failed to compute leaderboard", err)
	}

	previous, err := d.snapshots.Get(ctx, raceID)
	if err != nil {
		return nil, 0, models.NewStorageError(op, "failed to load baseline", err)
	}

	records, err := d.records.ListByRace(ctx, raceID)
	if err != nil {
		return nil, 0, models.NewStorageError(op, "failed to load records", err)
	}

	bests, err := d.personalBests(ctx, raceID)
	if err != nil {
		return nil, 0, models.NewStorageError(op, "failed to load competitors", err)
	}

	now := d.now()
	candidates := Detect(Input{
		Previous:      previous,
		Current:       current,
		Records:       records,
		PersonalBests: bests,
		DetectedAt:    now,
	}, d.rules)

	var emitted []*models.RaceEvent
	for _, e := range candidates {
		e.RaceID = raceID
		inserted, err := d.events.InsertIfAbsent(ctx, e)
		if err != nil {
			return nil, 0, models.NewStorageError(op, "failed to store event", err)
		}
		if inserted {
			emitted = append(emitted, e)
		}
	}

	if err := d.snapshots.Replace(ctx, raceID, current, now); err != nil {
		return nil, 0, models.NewStorageError(op, "failed to store baseline", err)
	}
	return emitted, len(candidates), nil
}

// personalBests returns the registry personal best of every matched competitor
func (d *Detector) personalBests(ctx context.Context, raceID uuid.UUID) (map[int]float64, error) {
	matched, err := d.competitors.ListByStatus(ctx, raceID, models.MatchStatusMatched)
	if err != nil {
		return nil, err
	}
	bests := make(map[int]float64, len(matched))
	for _, c := range matched {
		if c.PersonalBestKm != nil && *c.PersonalBestKm > 0 {
			bests[c.Bib] = *c.PersonalBestKm
		}
	}
	return bests, nil
}
