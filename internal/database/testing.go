package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// IntegrationEnv enables tests that start a Postgres container
const IntegrationEnv = "LAPWATCH_INTEGRATION"

// SetupTestDB starts a throwaway Postgres container, applies migrations and
// returns a connected DB. The test is skipped in -short mode or when
// LAPWATCH_INTEGRATION is unset.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	if testing.Short() || os.Getenv(IntegrationEnv) == "" {
		t.Skipf("integration test: set %s=1 to run", IntegrationEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lapwatch"),
		postgres.WithUsername("lapwatch"),
		postgres.WithPassword("lapwatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := NewDBFromDSN(ctx, dsn, 5)
	if err != nil {
		t.Fatalf("failed to create test database connection: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	return db
}
