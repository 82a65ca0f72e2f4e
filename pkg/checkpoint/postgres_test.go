package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPostgres creates a Postgres saver with CI/local environment
// detection. In CI (CI_DATABASE_URL set) it connects to the external
// PostgreSQL service container; locally it spins up a testcontainer.
func newTestPostgres(t *testing.T) *Postgres {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := pgContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	}

	saver, err := NewPostgres(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = saver.Close() })
	return saver
}

func TestPostgresSaverConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	saver := newTestPostgres(t)
	runSaverConformance(t, func(t *testing.T) Saver { return saver })
}

func TestPostgresMigrationsAreIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	saver := newTestPostgres(t)

	// A second migration pass over the same database must be a no-op.
	require.NoError(t, runMigrations(saver.DB()))

	var count int
	err := saver.DB().QueryRow(`SELECT count(*) FROM checkpoints`).Scan(&count)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 0)
}
