package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_FreshDatabase(t *testing.T) {
	db := openEmptyDB(t)

	status, err := db.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Fresh)
	assert.False(t, status.Valid)
	assert.Equal(t, 0, status.Current)
}

func TestCreateSchema_IsCurrent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	status, err := db.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaStatus{Current: SchemaVersion, Valid: true, LiveMigrationPossible: true}, status)

	legacy, err := db.NeedsLegacyEventIDCleanup(ctx)
	require.NoError(t, err)
	assert.False(t, legacy)

	for _, table := range []string{"event_types", "states_meta", "statistics", "recorder_runs"} {
		ok, err := db.tableExists(ctx, db.SQL(), table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
}

func TestMigrate_FromLegacy(t *testing.T) {
	ctx := context.Background()
	db := openEmptyDB(t)
	require.NoError(t, db.CreateLegacySchema(ctx))

	status, err := db.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Current)
	assert.False(t, status.Valid)
	assert.False(t, status.LiveMigrationPossible)

	require.NoError(t, db.Migrate(ctx, status.Current))

	status, err = db.Validate(ctx)
	require.NoError(t, err)
	assert.True(t, status.Valid)

	for _, col := range []string{"metadata_id", "context_id_bin"} {
		ok, err := db.columnExists(ctx, db.SQL(), "states", col)
		require.NoError(t, err)
		assert.True(t, ok, col)
	}
	// One schema_changes row per version.
	assert.Equal(t, SchemaVersion, countRows(t, db, "SELECT COUNT(*) FROM schema_changes"))
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openEmptyDB(t)
	require.NoError(t, db.CreateLegacySchema(ctx))
	require.NoError(t, db.Migrate(ctx, 1))

	// Replaying steps finds every column already present.
	require.NoError(t, db.Migrate(ctx, 3))
}

func TestValidate_TooNew(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.SQL().Exec("INSERT INTO schema_changes (schema_version, changed_ts) VALUES (?, 0)", SchemaVersion+1)
	require.NoError(t, err)

	_, err = db.Validate(ctx)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestLiveMigrationClassification(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.SQL().Exec("INSERT INTO schema_changes (schema_version, changed_ts) VALUES (?, 0)", LiveMigrationMinSchemaVersion)
	require.NoError(t, err)

	status, err := db.Validate(ctx)
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.True(t, status.LiveMigrationPossible)
}
