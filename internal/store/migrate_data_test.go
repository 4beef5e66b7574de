package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recorder/internal/model"
)

// openLegacyDB creates a version 1 database with legacy rows and upgrades
// the schema, leaving the data migrations to run.
func openLegacyDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db := openEmptyDB(t)
	require.NoError(t, db.CreateLegacySchema(ctx))

	ulidID := model.NewContextID()
	_, err := db.SQL().Exec(`
		INSERT INTO events (event_type, time_fired_ts, context_id, context_user_id) VALUES
		('call_service', 1, ?, '0b6bc3c9-8a0f-4a5e-9a52-7cbf1c5d8e21'),
		('call_service', 2, 'not-a-context', NULL),
		('homeassistant_start', 3, NULL, NULL)`, ulidID)
	require.NoError(t, err)
	_, err = db.SQL().Exec(`
		INSERT INTO states (entity_id, state, last_updated_ts, event_id, context_id) VALUES
		('light.a', 'on', 1, 1, ?),
		('light.a', 'off', 2, 2, NULL),
		('switch.b', 'on', 3, NULL, NULL)`, ulidID)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, 1))
	return db
}

func runUntilDone(t *testing.T, step func(context.Context) (bool, error)) {
	t.Helper()
	for i := 0; i < 10; i++ {
		done, err := step(context.Background())
		require.NoError(t, err)
		if done {
			return
		}
	}
	t.Fatal("migration did not finish")
}

func TestMigrateEventTypeIDs(t *testing.T) {
	ctx := context.Background()
	db := openLegacyDB(t)

	needs, err := db.NeedsEventTypeMigration(ctx)
	require.NoError(t, err)
	require.True(t, needs)

	runUntilDone(t, db.MigrateEventTypeIDs)

	needs, err = db.NeedsEventTypeMigration(ctx)
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM event_types"))
	assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM events WHERE event_type IS NOT NULL"))
}

func TestMigrateEntityIDs(t *testing.T) {
	ctx := context.Background()
	db := openLegacyDB(t)

	runUntilDone(t, db.MigrateEntityIDs)

	needs, err := db.NeedsEntityIDMigration(ctx)
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM states_meta"))
	assert.Equal(t, 2, countRows(t, db,
		"SELECT COUNT(*) FROM states s JOIN states_meta m ON s.metadata_id = m.metadata_id WHERE m.entity_id = 'light.a'"))
}

func TestMigrateContextIDs(t *testing.T) {
	ctx := context.Background()
	db := openLegacyDB(t)

	runUntilDone(t, db.MigrateEventsContextIDs)
	runUntilDone(t, db.MigrateStatesContextIDs)

	for _, check := range []func(context.Context) (bool, error){
		db.NeedsEventsContextMigration, db.NeedsStatesContextMigration,
	} {
		needs, err := check(ctx)
		require.NoError(t, err)
		assert.False(t, needs)
	}

	// Unparseable ids still get a binary id; missing ones stay NULL.
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM events WHERE context_id_bin IS NOT NULL"))
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM events WHERE context_user_id_bin IS NOT NULL"))
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM states WHERE context_id_bin IS NOT NULL"))
}

func TestCleanupLegacyEventIDs(t *testing.T) {
	ctx := context.Background()
	db := openLegacyDB(t)

	needs, err := db.NeedsLegacyEventIDCleanup(ctx)
	require.NoError(t, err)
	require.True(t, needs)

	runUntilDone(t, db.CleanupLegacyEventIDs)

	needs, err = db.NeedsLegacyEventIDCleanup(ctx)
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM states WHERE event_id IS NOT NULL"))
}
