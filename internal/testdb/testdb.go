// Package testdb provides a PostgreSQL database for store tests.
package testdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dockside/warehouse/backend/internal/schema"
)

// DSNEnv names the variable that points tests at an existing database
// instead of a container.
const DSNEnv = "TEST_DATABASE_URL"

// New returns a pool on an empty, fully migrated database. It starts a
// Postgres 16 container unless DSNEnv is set. The test is skipped in -short
// mode or when no container runtime is reachable.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("database tests skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		dsn = startContainer(ctx, t)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, schema.Ensure(ctx, pool))
	Reset(t, pool)
	return pool
}

// Reset empties every table so a shared database starts clean.
func Reset(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range schema.Tables() {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err, "truncate %s", table)
	}
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("warehouse"),
		postgres.WithUsername("warehouse"),
		postgres.WithPassword("warehouse"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		if container != nil {
			_ = container.Terminate(context.Background())
		}
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
