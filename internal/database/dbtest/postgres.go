package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/logger"
)

// Postgres runs a disposable Postgres with the checkout schema applied. Needs Docker, so it
// only runs with CHECKOUT_PG_INTEGRATION=1.
func Postgres(t testing.TB) *database.DB {
	t.Helper()
	if os.Getenv("CHECKOUT_PG_INTEGRATION") != "1" {
		t.Skip("set CHECKOUT_PG_INTEGRATION=1 to run against a Postgres container")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkout",
				"POSTGRES_PASSWORD": "checkout",
				"POSTGRES_DB":       "checkout",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://checkout:checkout@%s:%s/checkout?sslmode=disable", host, port.Port())

	nop := logger.NewNop()
	migrationDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	runner := migrations.NewRunner(migrationDB, nop)
	require.NoError(t, runner.MigrateUp())
	require.NoError(t, runner.Close())

	db, err := database.Connect(ctx, config.DatabaseConfig{
		DSN:            dsn,
		MaxOpenConns:   4,
		MaxIdleConns:   4,
		MaxLifetime:    time.Minute,
		ConnectRetries: 5,
		LockTimeout:    200 * time.Millisecond,
	}, nop)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
