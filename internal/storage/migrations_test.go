package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var got string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE name = ?", name).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestApplyMigrations(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, db))

	v, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.True(t, v.Equal(semver.MustParse(CurrentSchemaVersion)))

	for _, table := range []string{"documents", "chunks", "chunks_fts", "embeddings", "index_runs"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	// Re-applying is a no-op
	require.NoError(t, ApplyMigrations(ctx, db))
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(AllMigrations), count)
}

func TestRollbackMigration(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	require.NoError(t, ApplyMigrations(ctx, db))

	require.NoError(t, RollbackMigration(ctx, db))
	assert.False(t, tableExists(t, db, "index_runs"))
	assert.True(t, tableExists(t, db, "chunks"))

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, RollbackMigration(ctx, db))
	assert.False(t, tableExists(t, db, "chunks"))

	assert.Error(t, RollbackMigration(ctx, db))

	// And forward again
	require.NoError(t, ApplyMigrations(ctx, db))
	assert.True(t, tableExists(t, db, "index_runs"))
}

func TestMigrations_AreOrdered(t *testing.T) {
	var prev *semver.Version
	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		require.NoError(t, err)
		if prev != nil {
			assert.True(t, prev.LessThan(v), "%s must follow %s", v, prev)
		}
		prev = v
	}
	assert.Equal(t, CurrentSchemaVersion, AllMigrations[len(AllMigrations)-1].Version)
}
