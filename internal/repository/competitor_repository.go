package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/lapwatch/internal/database"
	"github.com/yourusername/lapwatch/internal/models"
)

const competitorColumns = `id, race_id, bib, first_name, last_name, gender, nationality, age,
	registry_id, match_status, match_confidence, personal_best_km, created_at, updated_at`

// PostgresCompetitorRepository implements CompetitorRepository for PostgreSQL
type PostgresCompetitorRepository struct {
	db *database.DB
}

// NewPostgresCompetitorRepository creates a new competitor repository
func NewPostgresCompetitorRepository(db *database.DB) CompetitorRepository {
	return &PostgresCompetitorRepository{db: db}
}

// Create inserts a competitor
func (r *PostgresCompetitorRepository) Create(ctx context.Context, c *models.Competitor) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.MatchStatus == "" {
		c.MatchStatus = models.MatchStatusUnmatched
	}

	query := `
		INSERT INTO competitors (id, race_id, bib, first_name, last_name, gender, nationality, age,
			registry_id, match_status, match_confidence, personal_best_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRow(ctx, query,
		c.ID, c.RaceID, c.Bib, c.FirstName, c.LastName, c.Gender, c.Nationality, c.Age,
		c.RegistryID, c.MatchStatus, c.MatchConfidence, c.PersonalBestKm,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("bib %d: %w", c.Bib, models.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to create competitor: %w", err)
	}
	return nil
}

// GetByID retrieves a competitor by ID
func (r *PostgresCompetitorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Competitor, error) {
	query := `SELECT ` + competitorColumns + ` FROM competitors WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByBib retrieves a competitor by race and bib
func (r *PostgresCompetitorRepository) GetByBib(ctx context.Context, raceID uuid.UUID, bib int) (*models.Competitor, error) {
	query := `SELECT ` + competitorColumns + ` FROM competitors WHERE race_id = $1 AND bib = $2`
	return r.getOne(ctx, query, raceID, bib)
}

func (r *PostgresCompetitorRepository) getOne(ctx context.Context, query string, args ...any) (*models.Competitor, error) {
	c, err := scanCompetitor(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get competitor: %w", err)
	}
	return c, nil
}

// ListByRace retrieves the roster of a race ordered by bib
func (r *PostgresCompetitorRepository) ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Competitor, error) {
	query := `SELECT ` + competitorColumns + ` FROM competitors WHERE race_id = $1 ORDER BY bib`
	return r.list(ctx, query, raceID)
}

// ListByStatus retrieves competitors of a race in the given match status
func (r *PostgresCompetitorRepository) ListByStatus(ctx context.Context, raceID uuid.UUID, status models.MatchStatus) ([]*models.Competitor, error) {
	query := `SELECT ` + competitorColumns + ` FROM competitors WHERE race_id = $1 AND match_status = $2 ORDER BY bib`
	return r.list(ctx, query, raceID, status)
}

func (r *PostgresCompetitorRepository) list(ctx context.Context, query string, args ...any) ([]*models.Competitor, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query competitors: %w", err)
	}
	defer rows.Close()

	var out []*models.Competitor
	for rows.Next() {
		c, err := scanCompetitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competitor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateMatch writes the registry match fields only
func (r *PostgresCompetitorRepository) UpdateMatch(ctx context.Context, id uuid.UUID, u MatchUpdate) error {
	query := `
		UPDATE competitors SET
			match_status = $2, registry_id = $3, match_confidence = $4, personal_best_km = $5, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, id, u.Status, u.RegistryID, u.Confidence, u.PersonalBestKm)
	if err != nil {
		return fmt.Errorf("failed to update competitor match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanCompetitor(row pgx.Row) (*models.Competitor, error) {
	c := &models.Competitor{}
	err := row.Scan(
		&c.ID, &c.RaceID, &c.Bib, &c.FirstName, &c.LastName, &c.Gender, &c.Nationality, &c.Age,
		&c.RegistryID, &c.MatchStatus, &c.MatchConfidence, &c.PersonalBestKm, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
