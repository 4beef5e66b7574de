package store

import (
	"context"
	"fmt"

	"github.com/roach88/recorder/internal/model"
)

// lookupChunk bounds the number of bind parameters per IN query.
const lookupChunk = 500

// EventTypeIDs returns the event_type_id of every known event type in types.
func (d *DB) EventTypeIDs(ctx context.Context, types []string) (map[string]int64, error) {
	out, err := d.lookupByText(ctx, "SELECT event_type_id, event_type FROM event_types WHERE event_type IN (%s)", types)
	return out, wrap("lookup event types", err)
}

// StatesMetaIDs returns the metadata_id of every known entity in entityIDs.
func (d *DB) StatesMetaIDs(ctx context.Context, entityIDs []string) (map[string]int64, error) {
	out, err := d.lookupByText(ctx, "SELECT metadata_id, entity_id FROM states_meta WHERE entity_id IN (%s)", entityIDs)
	return out, wrap("lookup states meta", err)
}

// EventDataIDs returns the data_id of every stored payload in shared.
// Candidates are found by hash and confirmed by comparing the payload.
func (d *DB) EventDataIDs(ctx context.Context, shared []string) (map[string]int64, error) {
	out, err := d.lookupByHash(ctx, "SELECT data_id, hash, shared_data FROM event_data WHERE hash IN (%s)", shared)
	return out, wrap("lookup event data", err)
}

// AttributesIDs returns the attributes_id of every stored payload in shared.
// Candidates are found by hash and confirmed by comparing the payload.
func (d *DB) AttributesIDs(ctx context.Context, shared []string) (map[string]int64, error) {
	out, err := d.lookupByHash(ctx, "SELECT attributes_id, hash, shared_attrs FROM state_attributes WHERE hash IN (%s)", shared)
	return out, wrap("lookup state attributes", err)
}

func (d *DB) lookupByText(ctx context.Context, tmpl string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for start := 0; start < len(keys); start += lookupChunk {
		chunk := keys[start:min(start+lookupChunk, len(keys))]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		rows, err := d.db.QueryContext(ctx, d.rebind(fmt.Sprintf(tmpl, placeholders(len(chunk)))), args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			var key string
			if err := rows.Scan(&id, &key); err != nil {
				rows.Close()
				return nil, err
			}
			out[key] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *DB) lookupByHash(ctx context.Context, tmpl string, shared []string) (map[string]int64, error) {
	byHash := make(map[int64][]string, len(shared))
	hashes := make([]int64, 0, len(shared))
	for _, s := range shared {
		h := model.HashShared([]byte(s))
		if _, seen := byHash[h]; !seen {
			hashes = append(hashes, h)
		}
		byHash[h] = append(byHash[h], s)
	}

	out := make(map[string]int64, len(shared))
	for start := 0; start < len(hashes); start += lookupChunk {
		chunk := hashes[start:min(start+lookupChunk, len(hashes))]
		rows, err := d.db.QueryContext(ctx, d.rebind(fmt.Sprintf(tmpl, placeholders(len(chunk)))), int64Args(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id, hash int64
			var content string
			if err := rows.Scan(&id, &hash, &content); err != nil {
				rows.Close()
				return nil, err
			}
			// A hash match is only a candidate.
			for _, want := range byHash[hash] {
				if want == content {
					if _, dup := out[want]; !dup {
						out[want] = id
					}
				}
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Counts returns the number of rows in each recorder table.
func (d *DB) Counts(ctx context.Context) (map[string]int64, error) {
	tables := []string{
		"events", "event_types", "event_data",
		"states", "states_meta", "state_attributes",
		"recorder_runs", "statistics_meta", "statistics", "statistics_short_term",
	}
	out := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, wrap("count "+table, err)
		}
		out[table] = n
	}
	return out, nil
}

// exists reports whether query returns at least one row.
func (d *DB) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return false, wrap(op, err)
	}
	defer rows.Close()
	found := rows.Next()
	return found, wrap(op, rows.Err())
}
