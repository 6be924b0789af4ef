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

const defaultEventPageSize = 100

// PostgresEventRepository implements EventRepository for PostgreSQL
type PostgresEventRepository struct {
	db *database.DB
}

// NewPostgresEventRepository creates a new event repository
func NewPostgresEventRepository(db *database.DB) EventRepository {
	return &PostgresEventRepository{db: db}
}

// InsertIfAbsent stores the event unless its dedup key already exists for the race
func (r *PostgresEventRepository) InsertIfAbsent(ctx context.Context, e *models.RaceEvent) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO race_events (id, race_id, event_type, priority, scope, bibs, countries, value,
			dedup_key, description, data, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (race_id, dedup_key) DO NOTHING
		RETURNING seq, created_at
	`

	bibs := e.Bibs
	if bibs == nil {
		bibs = []int{}
	}
	countries := e.Countries
	if countries == nil {
		countries = []string{}
	}

	err := r.db.Conn(ctx).QueryRow(ctx, query,
		e.ID, e.RaceID, e.Type, e.Priority, e.Scope, bibs, countries, e.Value,
		e.DedupKey, e.Description, e.Data, e.DetectedAt,
	).Scan(&e.Sequence, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert race event: %w", err)
	}
	return true, nil
}

// ListSince returns events with a sequence greater than afterSeq, oldest first
func (r *PostgresEventRepository) ListSince(ctx context.Context, raceID uuid.UUID, afterSeq int64, limit int) ([]*models.RaceEvent, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}

	query := `
		SELECT seq, id, race_id, event_type, priority, scope, bibs, countries, value,
		       dedup_key, description, data, detected_at, created_at
		FROM race_events
		WHERE race_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, raceID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query race events: %w", err)
	}
	defer rows.Close()

	var events []*models.RaceEvent
	for rows.Next() {
		e := &models.RaceEvent{}
		if err := rows.Scan(
			&e.Sequence, &e.ID, &e.RaceID, &e.Type, &e.Priority, &e.Scope, &e.Bibs, &e.Countries,
			&e.Value, &e.DedupKey, &e.Description, &e.Data, &e.DetectedAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan race event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
