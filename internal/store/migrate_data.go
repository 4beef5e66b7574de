package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/recorder/internal/model"
)

// DataMigrationBatch is the number of rows converted per batch.
const DataMigrationBatch = 1000

// NeedsEventTypeMigration reports whether events still carry only the text
// event type.
func (d *DB) NeedsEventTypeMigration(ctx context.Context) (bool, error) {
	return d.exists(ctx, "check event type migration",
		"SELECT event_id FROM events WHERE event_type_id IS NULL AND event_type IS NOT NULL LIMIT 1")
}

// NeedsEntityIDMigration reports whether states still carry only the text
// entity id.
func (d *DB) NeedsEntityIDMigration(ctx context.Context) (bool, error) {
	return d.exists(ctx, "check entity id migration",
		"SELECT state_id FROM states WHERE metadata_id IS NULL AND entity_id IS NOT NULL LIMIT 1")
}

// NeedsEventsContextMigration reports whether events have text context ids.
func (d *DB) NeedsEventsContextMigration(ctx context.Context) (bool, error) {
	return d.exists(ctx, "check events context migration",
		"SELECT event_id FROM events WHERE context_id_bin IS NULL AND context_id IS NOT NULL LIMIT 1")
}

// NeedsStatesContextMigration reports whether states have text context ids.
func (d *DB) NeedsStatesContextMigration(ctx context.Context) (bool, error) {
	return d.exists(ctx, "check states context migration",
		"SELECT state_id FROM states WHERE context_id_bin IS NULL AND context_id IS NOT NULL LIMIT 1")
}

// NeedsLegacyEventIDCleanup reports whether the legacy states.event_id
// index still exists.
func (d *DB) NeedsLegacyEventIDCleanup(ctx context.Context) (bool, error) {
	return d.IndexExists(ctx, "ix_states_event_id")
}

// MigrateEventTypeIDs converts one batch of events to event_type_id. It
// returns true when no rows are left.
func (d *DB) MigrateEventTypeIDs(ctx context.Context) (done bool, err error) {
	err = d.inTx(ctx, "migrate event type ids", func(tx *sql.Tx) error {
		pending, err := textColumnBatch(ctx, tx, d.rebind(
			"SELECT event_id, event_type FROM events WHERE event_type_id IS NULL AND event_type IS NOT NULL LIMIT ?"))
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			done = true
			return nil
		}
		return d.normalizeText(ctx, tx, pending, normalizePlan{
			lookup: "SELECT event_type_id FROM event_types WHERE event_type = ?",
			insert: "INSERT INTO event_types (event_type) VALUES (?) RETURNING event_type_id",
			update: "UPDATE events SET event_type_id = ?, event_type = NULL WHERE event_id = ?",
		})
	})
	return done, err
}

// MigrateEntityIDs converts one batch of states to metadata_id. It returns
// true when no rows are left.
func (d *DB) MigrateEntityIDs(ctx context.Context) (done bool, err error) {
	err = d.inTx(ctx, "migrate entity ids", func(tx *sql.Tx) error {
		pending, err := textColumnBatch(ctx, tx, d.rebind(
			"SELECT state_id, entity_id FROM states WHERE metadata_id IS NULL AND entity_id IS NOT NULL LIMIT ?"))
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			done = true
			return nil
		}
		return d.normalizeText(ctx, tx, pending, normalizePlan{
			lookup: "SELECT metadata_id FROM states_meta WHERE entity_id = ?",
			insert: "INSERT INTO states_meta (entity_id) VALUES (?) RETURNING metadata_id",
			update: "UPDATE states SET metadata_id = ?, entity_id = NULL WHERE state_id = ?",
		})
	})
	return done, err
}

// MigrateEventsContextIDs converts one batch of event context ids to binary.
func (d *DB) MigrateEventsContextIDs(ctx context.Context) (bool, error) {
	return d.migrateContextIDs(ctx, "events", "event_id", "time_fired_ts")
}

// MigrateStatesContextIDs converts one batch of state context ids to binary.
func (d *DB) MigrateStatesContextIDs(ctx context.Context) (bool, error) {
	return d.migrateContextIDs(ctx, "states", "state_id", "last_updated_ts")
}

// CleanupLegacyEventIDs clears one batch of states.event_id links. Once none
// remain the legacy index is dropped and true is returned.
func (d *DB) CleanupLegacyEventIDs(ctx context.Context) (done bool, err error) {
	err = d.inTx(ctx, "cleanup legacy event ids", func(tx *sql.Tx) error {
		ids, err := queryInts(ctx, tx, d.rebind(
			"SELECT state_id FROM states WHERE event_id IS NOT NULL LIMIT ?"), DataMigrationBatch)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			done = true
			_, err := tx.ExecContext(ctx, "DROP INDEX IF EXISTS ix_states_event_id")
			return err
		}
		_, err = tx.ExecContext(ctx, d.rebind(fmt.Sprintf(
			"UPDATE states SET event_id = NULL WHERE state_id IN (%s)", placeholders(len(ids)))),
			int64Args(ids)...)
		return err
	})
	return done, err
}

type textRow struct {
	id   int64
	text string
}

func textColumnBatch(ctx context.Context, tx *sql.Tx, query string) ([]textRow, error) {
	rows, err := tx.QueryContext(ctx, query, DataMigrationBatch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []textRow
	for rows.Next() {
		var r textRow
		if err := rows.Scan(&r.id, &r.text); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type normalizePlan struct {
	lookup string
	insert string
	update string
}

// normalizeText moves text values into a lookup table and points each row
// at the lookup row.
func (d *DB) normalizeText(ctx context.Context, tx *sql.Tx, pending []textRow, plan normalizePlan) error {
	ids := make(map[string]int64)
	for _, r := range pending {
		id, ok := ids[r.text]
		if !ok {
			err := tx.QueryRowContext(ctx, d.rebind(plan.lookup), r.text).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				err = tx.QueryRowContext(ctx, d.rebind(plan.insert), r.text).Scan(&id)
			}
			if err != nil {
				return fmt.Errorf("resolve %q: %w", r.text, err)
			}
			ids[r.text] = id
		}
		if _, err := tx.ExecContext(ctx, d.rebind(plan.update), id, r.id); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) migrateContextIDs(ctx context.Context, table, idCol, tsCol string) (done bool, err error) {
	err = d.inTx(ctx, "migrate "+table+" context ids", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, d.rebind(fmt.Sprintf(`
			SELECT %s, %s, context_id, context_user_id, context_parent_id
			FROM %s
			WHERE context_id_bin IS NULL AND context_id IS NOT NULL
			LIMIT ?`, idCol, tsCol, table)), DataMigrationBatch)
		if err != nil {
			return err
		}
		type legacyContext struct {
			id                      int64
			ts                      sql.NullFloat64
			ctxID, userID, parentID sql.NullString
		}
		var batch []legacyContext
		for rows.Next() {
			var r legacyContext
			if err := rows.Scan(&r.id, &r.ts, &r.ctxID, &r.userID, &r.parentID); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			done = true
			return nil
		}

		update := d.rebind(fmt.Sprintf(`
			UPDATE %s SET
				context_id_bin = ?, context_user_id_bin = ?, context_parent_id_bin = ?,
				context_id = NULL, context_user_id = NULL, context_parent_id = NULL
			WHERE %s = ?`, table, idCol))
		for _, r := range batch {
			_, err := tx.ExecContext(ctx, update,
				model.ContextIDBytesAt(r.ctxID.String, model.FromTimestamp(r.ts.Float64)),
				nullBytes(model.ContextIDBytes(r.userID.String)),
				nullBytes(model.ContextIDBytes(r.parentID.String)),
				r.id,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return done, err
}
