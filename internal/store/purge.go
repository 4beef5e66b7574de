package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/recorder/internal/model"
)

// PurgeBatch is the number of states and events removed per purge batch.
const PurgeBatch = 4000

// PurgeResult lists what one purge batch removed, so caches can drop the
// identifiers.
type PurgeResult struct {
	StateIDs      map[int64]struct{}
	AttributesIDs map[int64]struct{}
	DataIDs       map[int64]struct{}
	// Done is true once nothing older than the cutoff remains.
	Done bool
}

// PurgeOlderThan removes one batch of states and events recorded before
// before. When no such rows remain it removes orphaned attributes, event
// data and closed runs and reports Done.
func (d *DB) PurgeOlderThan(ctx context.Context, before time.Time) (PurgeResult, error) {
	result := PurgeResult{
		StateIDs:      make(map[int64]struct{}),
		AttributesIDs: make(map[int64]struct{}),
		DataIDs:       make(map[int64]struct{}),
	}
	cutoff := model.Timestamp(before)

	err := d.inTx(ctx, "purge", func(tx *sql.Tx) error {
		stateIDs, err := queryInts(ctx, tx, d.rebind(
			"SELECT state_id FROM states WHERE last_updated_ts < ? LIMIT ?"), cutoff, PurgeBatch)
		if err != nil {
			return err
		}
		if len(stateIDs) > 0 {
			in := placeholders(len(stateIDs))
			args := int64Args(stateIDs)
			// Newer states may still point at the rows going away.
			if _, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(
				"UPDATE states SET old_state_id = NULL WHERE old_state_id IN (%s)", in)), args...); err != nil {
				return fmt.Errorf("unlink old states: %w", err)
			}
			if _, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(
				"DELETE FROM states WHERE state_id IN (%s)", in)), args...); err != nil {
				return fmt.Errorf("delete states: %w", err)
			}
			for _, id := range stateIDs {
				result.StateIDs[id] = struct{}{}
			}
		}

		eventIDs, err := queryInts(ctx, tx, d.rebind(
			"SELECT event_id FROM events WHERE time_fired_ts < ? LIMIT ?"), cutoff, PurgeBatch)
		if err != nil {
			return err
		}
		if len(eventIDs) > 0 {
			if _, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(
				"DELETE FROM events WHERE event_id IN (%s)", placeholders(len(eventIDs)))),
				int64Args(eventIDs)...); err != nil {
				return fmt.Errorf("delete events: %w", err)
			}
		}

		if len(stateIDs) > 0 || len(eventIDs) > 0 {
			return nil
		}

		if err := d.deleteOrphans(ctx, tx, result.AttributesIDs,
			"SELECT attributes_id FROM state_attributes WHERE NOT EXISTS (SELECT 1 FROM states WHERE states.attributes_id = state_attributes.attributes_id)",
			"DELETE FROM state_attributes WHERE attributes_id IN (%s)"); err != nil {
			return fmt.Errorf("delete orphaned attributes: %w", err)
		}
		if err := d.deleteOrphans(ctx, tx, result.DataIDs,
			"SELECT data_id FROM event_data WHERE NOT EXISTS (SELECT 1 FROM events WHERE events.data_id = event_data.data_id)",
			"DELETE FROM event_data WHERE data_id IN (%s)"); err != nil {
			return fmt.Errorf("delete orphaned event data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind(
			"DELETE FROM recorder_runs WHERE start_ts < ? AND end_ts IS NOT NULL"), cutoff); err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind(
			"DELETE FROM statistics_short_term WHERE start_ts < ?"), cutoff); err != nil {
			return fmt.Errorf("delete short term statistics: %w", err)
		}
		result.Done = true
		return nil
	})
	return result, err
}

func (d *DB) deleteOrphans(ctx context.Context, tx *sql.Tx, into map[int64]struct{}, selectQuery, deleteTmpl string) error {
	ids, err := queryInts(ctx, tx, selectQuery)
	if err != nil {
		return err
	}
	for start := 0; start < len(ids); start += lookupChunk {
		chunk := ids[start:min(start+lookupChunk, len(ids))]
		if _, err := tx.ExecContext(ctx, d.rebind(fmt.Sprintf(deleteTmpl, placeholders(len(chunk)))), int64Args(chunk)...); err != nil {
			return err
		}
	}
	for _, id := range ids {
		into[id] = struct{}{}
	}
	return nil
}

// Repack reclaims free space. It must not run inside a transaction.
func (d *DB) Repack(ctx context.Context) error {
	query := "VACUUM"
	if d.dialect == DialectPostgres {
		query = "VACUUM ANALYZE"
	}
	_, err := d.db.ExecContext(ctx, query)
	return wrap("repack", err)
}

// PeriodicCleanup runs the nightly housekeeping that does not delete data:
// a WAL checkpoint for SQLite, ANALYZE for server dialects.
func (d *DB) PeriodicCleanup(ctx context.Context) error {
	query := "PRAGMA wal_checkpoint(TRUNCATE)"
	if d.dialect == DialectPostgres {
		query = "ANALYZE"
	}
	_, err := d.db.ExecContext(ctx, query)
	return wrap("periodic cleanup", err)
}
