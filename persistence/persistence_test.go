package persistence_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	assert.Equal(t, persistence.DialectPostgres, persistence.DialectFor("postgres://u:p@localhost/db"))
	assert.Equal(t, persistence.DialectPostgres, persistence.DialectFor("PostgreSQL://localhost/db"))
	assert.Equal(t, persistence.DialectSQLite, persistence.DialectFor("file::memory:?cache=shared"))
	assert.Equal(t, persistence.DialectSQLite, persistence.DialectFor("credentials.db"))
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := persistence.OpenAndMigrate(ctx, "file::memory:?cache=shared", auth.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var count int
	err = db.NewSelect().Model((*auth.User)(nil)).ColumnExpr("count(*)").Scan(ctx, &count)
	require.NoError(t, err)
	assert.Zero(t, count)

	// applying again is a no-op
	require.NoError(t, persistence.Migrate(ctx, db, auth.NopLogger()))
}
