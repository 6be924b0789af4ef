package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/lapwatch/internal/database"
	"github.com/yourusername/lapwatch/internal/models"
)

const (
	errScanRace = "failed to scan race: %w"
	raceColumns = `id, name, start_time, duration_hours, state, is_active, last_data_fetch, created_at, updated_at`
)

// PostgresRaceRepository implements RaceRepository for PostgreSQL
type PostgresRaceRepository struct {
	db *database.DB
}

// NewPostgresRaceRepository creates a new race repository
func NewPostgresRaceRepository(db *database.DB) RaceRepository {
	return &PostgresRaceRepository{db: db}
}

// Create inserts a new race
func (r *PostgresRaceRepository) Create(ctx context.Context, race *models.Race) error {
	if race.ID == uuid.Nil {
		race.ID = uuid.New()
	}
	if race.State == "" {
		race.State = models.RaceStateNotStarted
	}

	query := `
		INSERT INTO races (id, name, start_time, duration_hours, state, is_active, last_data_fetch)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRow(ctx, query,
		race.ID, race.Name, race.StartTime, race.DurationHours, race.State, race.IsActive, race.LastDataFetch,
	).Scan(&race.CreatedAt, &race.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("race %s: %w", race.ID, models.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to create race: %w", err)
	}

	return nil
}

// GetByID retrieves a race by ID
func (r *PostgresRaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races WHERE id = $1`

	race, err := scanRace(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race: %w", err)
	}

	return race, nil
}

// GetActive retrieves the race flagged active
func (r *PostgresRaceRepository) GetActive(ctx context.Context) (*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races WHERE is_active LIMIT 1`

	race, err := scanRace(r.db.Conn(ctx).QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNoActiveRace
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active race: %w", err)
	}

	return race, nil
}

// List retrieves all races, newest first
func (r *PostgresRaceRepository) List(ctx context.Context) ([]*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races ORDER BY created_at DESC`

	rows, err := r.db.Conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var races []*models.Race
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, fmt.Errorf(errScanRace, err)
		}
		races = append(races, race)
	}

	return races, rows.Err()
}

// SetActive makes id the only active race
func (r *PostgresRaceRepository) SetActive(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.db.Conn(ctx).Exec(ctx, `UPDATE races SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`, id); err != nil {
			return fmt.Errorf("failed to deactivate races: %w", err)
		}
		tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE races SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to activate race: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// SetState updates the lifecycle state
func (r *PostgresRaceRepository) SetState(ctx context.Context, id uuid.UUID, state models.RaceState) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE races SET state = $2, updated_at = NOW() WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("failed to update race state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkDataReceived stamps last_data_fetch and moves a not-started race to live
func (r *PostgresRaceRepository) MarkDataReceived(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE races SET
			last_data_fetch = $2,
			state = CASE WHEN state = 'not_started' THEN 'live' ELSE state END,
			updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark race data received: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Reset returns the race to not_started with no last data fetch
func (r *PostgresRaceRepository) Reset(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE races SET state = 'not_started', last_data_fetch = NULL, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset race: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanRace(row pgx.Row) (*models.Race, error) {
	race := &models.Race{}
	err := row.Scan(
		&race.ID, &race.Name, &race.StartTime, &race.DurationHours, &race.State,
		&race.IsActive, &race.LastDataFetch, &race.CreatedAt, &race.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return race, nil
}
