package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestImportStatistics_Upserts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	hour := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	meta := StatisticMetadata{StatisticID: "sensor.energy", Source: "recorder", UnitOfMeasurement: "kWh", HasSum: true}

	require.NoError(t, db.ImportStatistics(ctx, meta, []StatisticRow{
		{Start: hour, Sum: ptr(1.0), State: ptr(1.0)},
		{Start: hour.Add(time.Hour), Sum: ptr(2.0)},
	}, false))
	require.NoError(t, db.ImportStatistics(ctx, meta, []StatisticRow{
		{Start: hour, Sum: ptr(5.0)},
	}, false))

	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM statistics_meta"))
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM statistics"))
	var sum float64
	require.NoError(t, db.SQL().QueryRow("SELECT sum FROM statistics ORDER BY start_ts LIMIT 1").Scan(&sum))
	assert.Equal(t, 5.0, sum)

	require.NoError(t, db.ImportStatistics(ctx, meta, []StatisticRow{{Start: hour, Mean: ptr(3.0)}}, true))
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM statistics_short_term"))
}

func TestUpdateStatisticsMetadata(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	meta := StatisticMetadata{StatisticID: "sensor.a", Source: "recorder", UnitOfMeasurement: "W", HasMean: true}
	require.NoError(t, db.ImportStatistics(ctx, meta, nil, false))

	require.NoError(t, db.UpdateStatisticsMetadata(ctx, "sensor.a", ptr("sensor.b"), ptr("kW")))

	got, err := db.StatisticMetadataByID(ctx, "sensor.b")
	require.NoError(t, err)
	assert.Equal(t, "kW", got.UnitOfMeasurement)
	assert.True(t, got.HasMean)
}

func TestClearStatistics(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	meta := StatisticMetadata{StatisticID: "sensor.a", Source: "recorder"}
	require.NoError(t, db.ImportStatistics(ctx, meta, []StatisticRow{{Start: time.Unix(0, 0)}}, false))

	require.NoError(t, db.ClearStatistics(ctx, []string{"sensor.a"}))
	assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM statistics_meta"))
	assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM statistics"))
}

func TestUpdateStatesMetadata(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	b := NewBatch()
	b.AddStatesMeta(&StatesMetaRow{EntityID: "light.old"})
	b.AddStatesMeta(&StatesMetaRow{EntityID: "light.taken"})
	require.NoError(t, db.WriteBatch(ctx, b))

	require.NoError(t, db.UpdateStatesMetadata(ctx, "light.old", "light.new"))
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM states_meta WHERE entity_id = 'light.new'"))

	err := db.UpdateStatesMetadata(ctx, "light.new", "light.taken")
	assert.ErrorIs(t, err, ErrEntityExists)
}
