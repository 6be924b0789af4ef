package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/lapwatch/internal/database"
	"github.com/yourusername/lapwatch/internal/models"
)

var recordColumns = []string{
	"id", "race_id", "scope", "gender", "age_group", "nation", "distance_km", "elapsed_sec", "holder", "year",
}

// PostgresRecordRepository implements RecordRepository for PostgreSQL
type PostgresRecordRepository struct {
	db *database.DB
}

// NewPostgresRecordRepository creates a new record repository
func NewPostgresRecordRepository(db *database.DB) RecordRepository {
	return &PostgresRecordRepository{db: db}
}

// ListByRace returns the reference records of a race
func (r *PostgresRecordRepository) ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Record, error) {
	query := `
		SELECT id, race_id, scope, gender, age_group, nation, distance_km, elapsed_sec, holder, year, created_at
		FROM records
		WHERE race_id = $1
		ORDER BY scope, elapsed_sec
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec := &models.Record{}
		if err := rows.Scan(
			&rec.ID, &rec.RaceID, &rec.Scope, &rec.Gender, &rec.AgeGroup, &rec.Nation,
			&rec.DistanceKm, &rec.ElapsedSec, &rec.Holder, &rec.Year, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ReplaceForRace swaps the reference table of a race in one transaction
func (r *PostgresRecordRepository) ReplaceForRace(ctx context.Context, raceID uuid.UUID, records []*models.Record) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		if _, err := conn.Exec(ctx, `DELETE FROM records WHERE race_id = $1`, raceID); err != nil {
			return fmt.Errorf("failed to clear records: %w", err)
		}

		rows := make([][]any, len(records))
		for i, rec := range records {
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			rec.RaceID = raceID
			rows[i] = []any{
				rec.ID, raceID, string(rec.Scope), string(rec.Gender), rec.AgeGroup, rec.Nation,
				rec.DistanceKm, rec.ElapsedSec, rec.Holder, rec.Year,
			}
		}

		if _, err := conn.CopyFrom(ctx, pgx.Identifier{"records"}, recordColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
		return nil
	})
}
