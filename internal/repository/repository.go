package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/database"
)

const uniqueViolation = "23505"

// Repositories holds all repository implementations
type Repositories struct {
	Race       RaceRepository
	Competitor CompetitorRepository
	Lap        LapRepository
	Snapshot   SnapshotRepository
	Event      EventRepository
	Record     RecordRepository
	Tx         Transactor
	Locker     RaceLocker
}

// NewRepositories creates and returns all PostgreSQL repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Race:       NewPostgresRaceRepository(db),
		Competitor: NewPostgresCompetitorRepository(db),
		Lap:        NewPostgresLapRepository(db),
		Snapshot:   NewPostgresSnapshotRepository(db),
		Event:      NewPostgresEventRepository(db),
		Record:     NewPostgresRecordRepository(db),
		Tx:         db,
		Locker:     NewPostgresRaceLocker(db),
	}, nil
}

// Open builds the repositories for the configured storage driver. The
// returned DB is nil for the memory driver.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Repositories, *database.DB, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("Using in-memory storage; data is lost on exit")
		return NewMemoryRepositories(), nil, nil
	}

	db, err := database.Initialize(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	repos, err := NewRepositories(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return repos, db, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
