package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/recorder/internal/model"
)

// ErrEntityExists is returned when renaming an entity onto an id that is
// already recorded.
var ErrEntityExists = errors.New("entity id already recorded")

// StatisticMetadata describes one long-term statistic.
type StatisticMetadata struct {
	ID                int64
	StatisticID       string
	Source            string
	UnitOfMeasurement string
	HasMean           bool
	HasSum            bool
	Name              string
}

// StatisticRow is one aggregated period of a statistic.
type StatisticRow struct {
	Start     time.Time
	Mean      *float64
	Min       *float64
	Max       *float64
	LastReset *time.Time
	State     *float64
	Sum       *float64
}

// ImportStatistics upserts meta and then rows keyed by (metadata, start).
// shortTerm selects the five-minute table.
func (d *DB) ImportStatistics(ctx context.Context, meta StatisticMetadata, rows []StatisticRow, shortTerm bool) error {
	table := "statistics"
	if shortTerm {
		table = "statistics_short_term"
	}
	upsert := d.rebind(fmt.Sprintf(`
		INSERT INTO %s (metadata_id, start_ts, mean, min, max, last_reset_ts, state, sum, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (metadata_id, start_ts) DO UPDATE SET
			mean = excluded.mean,
			min = excluded.min,
			max = excluded.max,
			last_reset_ts = excluded.last_reset_ts,
			state = excluded.state,
			sum = excluded.sum`, table))

	return d.inTx(ctx, "import statistics "+meta.StatisticID, func(tx *sql.Tx) error {
		metadataID, err := d.upsertStatisticMetadata(ctx, tx, meta)
		if err != nil {
			return err
		}
		now := model.Timestamp(time.Now())
		for _, r := range rows {
			var lastReset any
			if r.LastReset != nil {
				lastReset = model.Timestamp(*r.LastReset)
			}
			if _, err := tx.ExecContext(ctx, upsert,
				metadataID, model.Timestamp(r.Start),
				r.Mean, r.Min, r.Max, lastReset, r.State, r.Sum, now,
			); err != nil {
				return fmt.Errorf("upsert %s row at %s: %w", table, r.Start.Format(time.RFC3339), err)
			}
		}
		return nil
	})
}

func (d *DB) upsertStatisticMetadata(ctx context.Context, tx *sql.Tx, meta StatisticMetadata) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, d.rebind(
		"SELECT id FROM statistics_meta WHERE statistic_id = ?"), meta.StatisticID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, d.rebind(`
			INSERT INTO statistics_meta (statistic_id, source, unit_of_measurement, has_mean, has_sum, name)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			meta.StatisticID, meta.Source, nullString(meta.UnitOfMeasurement),
			boolInt(meta.HasMean), boolInt(meta.HasSum), nullString(meta.Name),
		).Scan(&id)
		return id, err
	case err != nil:
		return 0, err
	}
	_, err = tx.ExecContext(ctx, d.rebind(`
		UPDATE statistics_meta
		SET source = ?, unit_of_measurement = ?, has_mean = ?, has_sum = ?, name = ?
		WHERE id = ?`),
		meta.Source, nullString(meta.UnitOfMeasurement),
		boolInt(meta.HasMean), boolInt(meta.HasSum), nullString(meta.Name), id,
	)
	return id, err
}

// StatisticMetadataByID returns the metadata for statisticID.
func (d *DB) StatisticMetadataByID(ctx context.Context, statisticID string) (StatisticMetadata, error) {
	var (
		m          StatisticMetadata
		unit, name sql.NullString
		mean, sum  int
	)
	err := d.db.QueryRowContext(ctx, d.rebind(`
		SELECT id, statistic_id, source, unit_of_measurement, has_mean, has_sum, name
		FROM statistics_meta WHERE statistic_id = ?`), statisticID,
	).Scan(&m.ID, &m.StatisticID, &m.Source, &unit, &mean, &sum, &name)
	if err != nil {
		return StatisticMetadata{}, wrap("read statistic metadata", err)
	}
	m.UnitOfMeasurement = unit.String
	m.Name = name.String
	m.HasMean = mean != 0
	m.HasSum = sum != 0
	return m, nil
}

// UpdateStatisticsMetadata renames a statistic and/or changes its unit.
// Nil arguments leave the field unchanged.
func (d *DB) UpdateStatisticsMetadata(ctx context.Context, statisticID string, newStatisticID, newUnit *string) error {
	return d.inTx(ctx, "update statistics metadata", func(tx *sql.Tx) error {
		if newUnit != nil {
			if _, err := tx.ExecContext(ctx, d.rebind(
				"UPDATE statistics_meta SET unit_of_measurement = ? WHERE statistic_id = ?"),
				nullString(*newUnit), statisticID); err != nil {
				return err
			}
		}
		if newStatisticID != nil && *newStatisticID != statisticID {
			if _, err := tx.ExecContext(ctx, d.rebind(
				"UPDATE statistics_meta SET statistic_id = ? WHERE statistic_id = ?"),
				*newStatisticID, statisticID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearStatistics removes the given statistics and all their rows.
func (d *DB) ClearStatistics(ctx context.Context, statisticIDs []string) error {
	if len(statisticIDs) == 0 {
		return nil
	}
	args := make([]any, len(statisticIDs))
	for i, s := range statisticIDs {
		args[i] = s
	}
	in := placeholders(len(statisticIDs))
	return d.inTx(ctx, "clear statistics", func(tx *sql.Tx) error {
		for _, table := range []string{"statistics", "statistics_short_term"} {
			if _, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(
				"DELETE FROM %s WHERE metadata_id IN (SELECT id FROM statistics_meta WHERE statistic_id IN (%s))",
				table, in)), args...); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(
			"DELETE FROM statistics_meta WHERE statistic_id IN (%s)", in)), args...)
		return err
	})
}

// UpdateStatesMetadata renames an entity in states_meta. It fails with
// ErrEntityExists when newEntityID is already recorded.
func (d *DB) UpdateStatesMetadata(ctx context.Context, entityID, newEntityID string) error {
	return d.inTx(ctx, "update states metadata", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, d.rebind(
			"SELECT COUNT(*) FROM states_meta WHERE entity_id = ?"), newEntityID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrEntityExists, newEntityID)
		}
		_, err := tx.ExecContext(ctx, d.rebind(
			"UPDATE states_meta SET entity_id = ? WHERE entity_id = ?"), newEntityID, entityID)
		return err
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
