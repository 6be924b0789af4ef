package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/lapwatch/internal/models"
)

// RaceRepository defines the interface for race data access
type RaceRepository interface {
	Create(ctx context.Context, race *models.Race) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Race, error)
	GetActive(ctx context.Context) (*models.Race, error)
	List(ctx context.Context) ([]*models.Race, error)
	SetActive(ctx context.Context, id uuid.UUID) error
	SetState(ctx context.Context, id uuid.UUID, state models.RaceState) error
	// MarkDataReceived stamps last_data_fetch and moves a not-started race to live.
	MarkDataReceived(ctx context.Context, id uuid.UUID, at time.Time) error
	// Reset returns the race to not_started with no last data fetch.
	Reset(ctx context.Context, id uuid.UUID) error
}

// MatchUpdate carries the registry fields the matcher is allowed to change
type MatchUpdate struct {
	Status         models.MatchStatus
	RegistryID     *int64
	Confidence     *float64
	PersonalBestKm *float64
}

// CompetitorRepository defines the interface for competitor data access
type CompetitorRepository interface {
	Create(ctx context.Context, competitor *models.Competitor) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Competitor, error)
	GetByBib(ctx context.Context, raceID uuid.UUID, bib int) (*models.Competitor, error)
	ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Competitor, error)
	ListByStatus(ctx context.Context, raceID uuid.UUID, status models.MatchStatus) ([]*models.Competitor, error)
	UpdateMatch(ctx context.Context, id uuid.UUID, update MatchUpdate) error
}

// LapRepository defines the interface for lap data access. Insert returns an
// error wrapping models.ErrDuplicateKey when (race, bib, lap) already exists.
type LapRepository interface {
	Insert(ctx context.Context, lap *models.Lap) error
	ListByBib(ctx context.Context, raceID uuid.UUID, bib int) ([]*models.Lap, error)
	ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Lap, error)
	ListLatest(ctx context.Context, raceID uuid.UUID) ([]*models.Lap, error)
	DeleteByRace(ctx context.Context, raceID uuid.UUID) (int64, error)
}

// SnapshotRepository stores the leaderboard baseline used by the event detector
type SnapshotRepository interface {
	Get(ctx context.Context, raceID uuid.UUID) ([]models.LeaderboardEntry, error)
	Replace(ctx context.Context, raceID uuid.UUID, entries []models.LeaderboardEntry, takenAt time.Time) error
	DeleteByRace(ctx context.Context, raceID uuid.UUID) error
}

// EventRepository defines the interface for race event data access
type EventRepository interface {
	// InsertIfAbsent stores the event unless one with the same dedup key
	// exists for the race. It reports whether a row was written and fills
	// the event's sequence on success.
	InsertIfAbsent(ctx context.Context, event *models.RaceEvent) (bool, error)
	ListSince(ctx context.Context, raceID uuid.UUID, afterSeq int64, limit int) ([]*models.RaceEvent, error)
}

// RecordRepository defines the interface for the reference record table
type RecordRepository interface {
	ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Record, error)
	ReplaceForRace(ctx context.Context, raceID uuid.UUID, records []*models.Record) error
}

// Transactor runs fn atomically
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// RaceLocker runs fn while holding an exclusive per-race lock. Repository
// calls made with the context passed to fn share its transaction.
type RaceLocker interface {
	WithRaceLock(ctx context.Context, raceID uuid.UUID, fn func(context.Context) error) error
}
