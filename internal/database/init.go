package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/lapwatch/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Initialize creates a connection pool and warns when migrations are missing
func Initialize(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read schema_migrations; run the migrate command")
		return db, nil
	}
	if len(pending) > 0 {
		log.WithField("pending", pending).Warn("Database migrations have not been applied")
	}

	return db, nil
}

// Migrate applies every embedded migration not yet recorded in schema_migrations
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	for _, version := range pending {
		body, err := migrationFS.ReadFile("migrations/" + version)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", version, err)
		}

		err = db.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := db.Conn(ctx).Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("migration %s failed: %w", version, err)
			}
			_, err := db.Conn(ctx).Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return pending, nil
}

// PendingMigrations lists embedded migrations that are not applied yet
func (db *DB) PendingMigrations(ctx context.Context) ([]string, error) {
	all, err := migrationNames()
	if err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range all {
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
