package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/lapwatch/internal/database"
	"github.com/yourusername/lapwatch/internal/models"
)

const lapColumns = `race_id, bib, lap, lap_duration_sec, race_elapsed_sec, distance_km,
	lap_pace_sec, avg_pace_sec, "timestamp", created_at`

// PostgresLapRepository implements LapRepository for PostgreSQL
type PostgresLapRepository struct {
	db *database.DB
}

// NewPostgresLapRepository creates a new lap repository
func NewPostgresLapRepository(db *database.DB) LapRepository {
	return &PostgresLapRepository{db: db}
}

// Insert adds a lap. The (race_id, bib, lap) primary key rejects duplicates.
func (r *PostgresLapRepository) Insert(ctx context.Context, lap *models.Lap) error {
	query := `
		INSERT INTO laps (race_id, bib, lap, lap_duration_sec, race_elapsed_sec, distance_km,
			lap_pace_sec, avg_pace_sec, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.Conn(ctx).QueryRow(ctx, query,
		lap.RaceID, lap.Bib, lap.Lap, lap.LapDurationSec, lap.RaceElapsedSec, lap.DistanceKm,
		lap.LapPaceSec, lap.AvgPaceSec, lap.Timestamp,
	).Scan(&lap.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("lap %d for bib %d: %w", lap.Lap, lap.Bib, models.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert lap: %w", err)
	}
	return nil
}

// ListByBib retrieves one competitor's laps in lap order
func (r *PostgresLapRepository) ListByBib(ctx context.Context, raceID uuid.UUID, bib int) ([]*models.Lap, error) {
	query := `SELECT ` + lapColumns + ` FROM laps WHERE race_id = $1 AND bib = $2 ORDER BY lap`
	return r.list(ctx, query, raceID, bib)
}

// ListByRace retrieves every lap of a race
func (r *PostgresLapRepository) ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Lap, error) {
	query := `SELECT ` + lapColumns + ` FROM laps WHERE race_id = $1 ORDER BY bib, lap`
	return r.list(ctx, query, raceID)
}

// ListLatest retrieves the highest-index lap of every bib
func (r *PostgresLapRepository) ListLatest(ctx context.Context, raceID uuid.UUID) ([]*models.Lap, error) {
	query := `
		SELECT DISTINCT ON (bib) ` + lapColumns + `
		FROM laps
		WHERE race_id = $1
		ORDER BY bib, lap DESC
	`
	return r.list(ctx, query, raceID)
}

// DeleteByRace removes all laps of a race
func (r *PostgresLapRepository) DeleteByRace(ctx context.Context, raceID uuid.UUID) (int64, error) {
	tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM laps WHERE race_id = $1`, raceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete laps: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresLapRepository) list(ctx context.Context, query string, args ...any) ([]*models.Lap, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query laps: %w", err)
	}
	defer rows.Close()

	var laps []*models.Lap
	for rows.Next() {
		lap, err := scanLap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lap: %w", err)
		}
		laps = append(laps, lap)
	}
	return laps, rows.Err()
}

func scanLap(row pgx.Row) (*models.Lap, error) {
	lap := &models.Lap{}
	err := row.Scan(
		&lap.RaceID, &lap.Bib, &lap.Lap, &lap.LapDurationSec, &lap.RaceElapsedSec, &lap.DistanceKm,
		&lap.LapPaceSec, &lap.AvgPaceSec, &lap.Timestamp, &lap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return lap, nil
}
