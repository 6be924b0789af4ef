package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/yourusername/lapwatch/internal/database"
)

// PostgresRaceLocker serialises work per race with a transaction-scoped
// advisory lock. The lock is released on commit or rollback.
type PostgresRaceLocker struct {
	db *database.DB
}

// NewPostgresRaceLocker creates a new advisory race locker
func NewPostgresRaceLocker(db *database.DB) RaceLocker {
	return &PostgresRaceLocker{db: db}
}

// WithRaceLock runs fn inside a transaction holding the race's advisory lock
func (l *PostgresRaceLocker) WithRaceLock(ctx context.Context, raceID uuid.UUID, fn func(context.Context) error) error {
	return l.db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := l.db.Conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, raceID.String()); err != nil {
			return fmt.Errorf("failed to acquire race lock: %w", err)
		}
		return fn(ctx)
	})
}
