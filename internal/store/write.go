package store

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	insertEventType  = `INSERT INTO event_types (event_type) VALUES (?) RETURNING event_type_id`
	insertEventData  = `INSERT INTO event_data (hash, shared_data) VALUES (?, ?) RETURNING data_id`
	insertStatesMeta = `INSERT INTO states_meta (entity_id) VALUES (?) RETURNING metadata_id`
	insertAttributes = `INSERT INTO state_attributes (hash, shared_attrs) VALUES (?, ?) RETURNING attributes_id`

	insertEvent = `
		INSERT INTO events
		(event_type, event_type_id, data_id, origin_idx, time_fired_ts,
		 context_id_bin, context_user_id_bin, context_parent_id_bin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING event_id`

	insertState = `
		INSERT INTO states
		(entity_id, metadata_id, state, attributes_id, old_state_id,
		 last_updated_ts, last_changed_ts, origin_idx,
		 context_id_bin, context_user_id_bin, context_parent_id_bin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING state_id`
)

// WriteBatch inserts every row of b in one transaction and assigns the new
// identifiers to the rows. On failure nothing is written, every identifier
// in b is reset to zero, and b can be written again.
func (d *DB) WriteBatch(ctx context.Context, b *Batch) (err error) {
	if !b.Dirty() {
		return nil
	}
	defer func() {
		if err != nil {
			b.clearIDs()
		}
	}()

	// Statements are prepared on the pool before the transaction takes the
	// only SQLite connection.
	stmts := make(map[string]*sql.Stmt, len(batchQueries))
	for _, q := range batchQueries {
		stmt, err := d.stmt(ctx, q)
		if err != nil {
			return wrap("write batch: prepare", err)
		}
		stmts[q] = stmt
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("write batch: begin", err)
	}
	defer tx.Rollback() // No-op after commit

	w := batchWriter{tx: tx, stmts: stmts}
	if err := w.write(ctx, b); err != nil {
		return wrap("write batch", err)
	}
	if err := tx.Commit(); err != nil {
		return wrap("write batch: commit", err)
	}
	return nil
}

var batchQueries = []string{
	insertEventType, insertEventData, insertStatesMeta,
	insertAttributes, insertEvent, insertState,
}

type batchWriter struct {
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
}

func (w batchWriter) insert(ctx context.Context, query string, dest *int64, args ...any) error {
	return w.tx.StmtContext(ctx, w.stmts[query]).QueryRowContext(ctx, args...).Scan(dest)
}

func (w batchWriter) write(ctx context.Context, b *Batch) error {
	for _, r := range b.eventTypes {
		if err := w.insert(ctx, insertEventType, &r.ID, r.EventType); err != nil {
			return fmt.Errorf("insert event type %q: %w", r.EventType, err)
		}
	}
	for _, r := range b.eventData {
		if err := w.insert(ctx, insertEventData, &r.ID, r.Hash, r.SharedData); err != nil {
			return fmt.Errorf("insert event data: %w", err)
		}
	}
	for _, r := range b.statesMeta {
		if err := w.insert(ctx, insertStatesMeta, &r.ID, r.EntityID); err != nil {
			return fmt.Errorf("insert states meta %q: %w", r.EntityID, err)
		}
	}
	for _, r := range b.attributes {
		if err := w.insert(ctx, insertAttributes, &r.ID, r.Hash, r.SharedAttrs); err != nil {
			return fmt.Errorf("insert state attributes: %w", err)
		}
	}
	for _, r := range b.events {
		err := w.insert(ctx, insertEvent, &r.ID,
			nullString(r.LegacyEventType),
			eventTypeRef(r),
			eventDataRef(r),
			r.OriginIdx,
			r.TimeFiredTS,
			nullBytes(r.ContextIDBin),
			nullBytes(r.ContextUserIDBin),
			nullBytes(r.ContextParentIDBin),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	for _, r := range b.states {
		err := w.insert(ctx, insertState, &r.ID,
			nullString(r.LegacyEntityID),
			statesMetaRef(r),
			r.State,
			attributesRef(r),
			oldStateRef(r),
			r.LastUpdatedTS,
			r.LastChangedTS,
			r.OriginIdx,
			nullBytes(r.ContextIDBin),
			nullBytes(r.ContextUserIDBin),
			nullBytes(r.ContextParentIDBin),
		)
		if err != nil {
			return fmt.Errorf("insert state: %w", err)
		}
	}
	return nil
}

// The ref helpers resolve a foreign key to a known id, then to the id of a
// row written earlier in the batch, else NULL.

func eventTypeRef(r *EventRow) any {
	switch {
	case r.EventTypeID > 0:
		return r.EventTypeID
	case r.EventType != nil && r.EventType.ID > 0:
		return r.EventType.ID
	}
	return nil
}

func eventDataRef(r *EventRow) any {
	switch {
	case r.DataID > 0:
		return r.DataID
	case r.Data != nil && r.Data.ID > 0:
		return r.Data.ID
	}
	return nil
}

func statesMetaRef(r *StateRow) any {
	switch {
	case r.MetadataID > 0:
		return r.MetadataID
	case r.Meta != nil && r.Meta.ID > 0:
		return r.Meta.ID
	}
	return nil
}

func attributesRef(r *StateRow) any {
	switch {
	case r.AttributesID > 0:
		return r.AttributesID
	case r.Attributes != nil && r.Attributes.ID > 0:
		return r.Attributes.ID
	}
	return nil
}

func oldStateRef(r *StateRow) any {
	switch {
	case r.OldStateID > 0:
		return r.OldStateID
	case r.OldState != nil && r.OldState.ID > 0:
		return r.OldState.ID
	}
	return nil
}
