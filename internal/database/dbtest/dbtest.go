// Package dbtest opens in-memory SQLite databases with the checkout schema for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

// New returns a fresh database. One connection keeps :memory: shared and serializes
// transactions the way row locks would.
func New(t testing.TB) *database.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, model := range models.All {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	t.Cleanup(func() { bunDB.Close() })
	return &database.DB{Bun: bunDB}
}

// Insert writes each row with its own INSERT.
func Insert(t testing.TB, db *database.DB, rows ...any) {
	t.Helper()
	for _, row := range rows {
		_, err := db.Bun.NewInsert().Model(row).Exec(context.Background())
		require.NoError(t, err)
	}
}

func Int64(v int64) *int64 { return &v }

func Int(v int) *int { return &v }
