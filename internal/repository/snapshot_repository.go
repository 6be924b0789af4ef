package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/lapwatch/internal/database"
	"github.com/yourusername/lapwatch/internal/models"
)

var snapshotColumns = []string{
	"race_id", "bib", "name", "gender", "nationality", "age_group", "lap", "distance_km",
	"race_time_sec", "rank", "gender_rank", "age_group_rank", "taken_at",
}

// PostgresSnapshotRepository implements SnapshotRepository for PostgreSQL
type PostgresSnapshotRepository struct {
	db *database.DB
}

// NewPostgresSnapshotRepository creates a new snapshot repository
func NewPostgresSnapshotRepository(db *database.DB) SnapshotRepository {
	return &PostgresSnapshotRepository{db: db}
}

// Get returns the stored baseline ordered by rank. An empty slice means no baseline.
func (r *PostgresSnapshotRepository) Get(ctx context.Context, raceID uuid.UUID) ([]models.LeaderboardEntry, error) {
	query := `
		SELECT bib, name, gender, nationality, age_group, lap, distance_km, race_time_sec,
		       rank, gender_rank, age_group_rank
		FROM leaderboard_snapshots
		WHERE race_id = $1
		ORDER BY rank
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard snapshot: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(
			&e.Bib, &e.Name, &e.Gender, &e.Nationality, &e.AgeGroup, &e.Lap, &e.DistanceKm,
			&e.RaceTimeSec, &e.Rank, &e.GenderRank, &e.AgeGroupRank,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replace swaps the baseline for entries. Call inside the race lock so the
// delete and copy commit together.
func (r *PostgresSnapshotRepository) Replace(ctx context.Context, raceID uuid.UUID, entries []models.LeaderboardEntry, takenAt time.Time) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		if _, err := conn.Exec(ctx, `DELETE FROM leaderboard_snapshots WHERE race_id = $1`, raceID); err != nil {
			return fmt.Errorf("failed to clear leaderboard snapshot: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		rows := make([][]any, len(entries))
		for i, e := range entries {
			rows[i] = []any{
				raceID, e.Bib, e.Name, string(e.Gender), e.Nationality, e.AgeGroup, e.Lap, e.DistanceKm,
				e.RaceTimeSec, e.Rank, e.GenderRank, e.AgeGroupRank, takenAt,
			}
		}

		copied, err := conn.CopyFrom(ctx, pgx.Identifier{"leaderboard_snapshots"}, snapshotColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to write leaderboard snapshot: %w", err)
		}
		if copied != int64(len(entries)) {
			return fmt.Errorf("inserted %d snapshot rows, expected %d", copied, len(entries))
		}
		return nil
	})
}

// DeleteByRace removes the baseline of a race
func (r *PostgresSnapshotRepository) DeleteByRace(ctx context.Context, raceID uuid.UUID) error {
	if _, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM leaderboard_snapshots WHERE race_id = $1`, raceID); err != nil {
		return fmt.Errorf("failed to delete leaderboard snapshot: %w", err)
	}
	return nil
}
