package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Schema version history:
//
//	1 - legacy layout: text event types, entity ids and context ids inline
//	2 - event_types table, events.event_type_id
//	3 - states_meta table, states.metadata_id
//	4 - binary context id columns
//	5 - content hash and uniqueness indexes
const SchemaVersion = 5

// LiveMigrationMinSchemaVersion is the oldest version that can be upgraded
// while events keep being recorded. Older databases block ingestion until
// the upgrade finishes.
const LiveMigrationMinSchemaVersion = 4

// ErrSchemaTooNew is returned by Validate for databases written by a newer
// recorder.
var ErrSchemaTooNew = errors.New("database schema is newer than supported")

// SchemaStatus describes the schema found at connection time.
type SchemaStatus struct {
	// Current is the recorded version, 0 for an empty database.
	Current int
	// Fresh is true when no recorder tables exist yet.
	Fresh bool
	// Valid is true when no migration is needed.
	Valid bool
	// LiveMigrationPossible is true when the upgrade can run while events
	// are being recorded.
	LiveMigrationPossible bool
}

// Validate reads the schema version.
func (d *DB) Validate(ctx context.Context) (SchemaStatus, error) {
	exists, err := d.tableExists(ctx, d.db, "schema_changes")
	if err != nil {
		return SchemaStatus{}, wrap("validate schema", err)
	}
	if !exists {
		return SchemaStatus{Fresh: true, LiveMigrationPossible: true}, nil
	}

	var version sql.NullInt64
	err = d.db.QueryRowContext(ctx,
		"SELECT schema_version FROM schema_changes ORDER BY change_id DESC LIMIT 1",
	).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return SchemaStatus{}, wrap("read schema version", err)
	}

	status := SchemaStatus{Current: int(version.Int64)}
	if status.Current > SchemaVersion {
		return status, fmt.Errorf("%w: found %d, supported %d", ErrSchemaTooNew, status.Current, SchemaVersion)
	}
	status.Valid = status.Current == SchemaVersion
	status.LiveMigrationPossible = status.Current >= LiveMigrationMinSchemaVersion
	return status, nil
}

// CreateSchema builds an empty database at the latest version.
func (d *DB) CreateSchema(ctx context.Context) error {
	return d.inTx(ctx, "create schema", func(tx *sql.Tx) error {
		if err := d.execDDL(ctx, tx, baseSchema); err != nil {
			return err
		}
		for v := 2; v <= SchemaVersion; v++ {
			if err := migrationSteps[v](ctx, d, tx); err != nil {
				return fmt.Errorf("step %d: %w", v, err)
			}
		}
		// A new database has no legacy event links to clean up.
		if _, err := tx.ExecContext(ctx, "DROP INDEX IF EXISTS ix_states_event_id"); err != nil {
			return err
		}
		return d.recordSchemaVersion(ctx, tx, SchemaVersion)
	})
}

// Migrate upgrades the schema from version from to SchemaVersion, one
// committed step at a time. A failed step leaves every earlier step applied
// and recorded.
func (d *DB) Migrate(ctx context.Context, from int) error {
	if from < 1 {
		from = 1
	}
	for v := from + 1; v <= SchemaVersion; v++ {
		step := migrationSteps[v]
		err := d.inTx(ctx, fmt.Sprintf("migrate schema to %d", v), func(tx *sql.Tx) error {
			if err := step(ctx, d, tx); err != nil {
				return err
			}
			return d.recordSchemaVersion(ctx, tx, v)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateLegacySchema builds a database at schema version 1. Used to exercise
// upgrades.
func (d *DB) CreateLegacySchema(ctx context.Context) error {
	return d.inTx(ctx, "create legacy schema", func(tx *sql.Tx) error {
		if err := d.execDDL(ctx, tx, baseSchema); err != nil {
			return err
		}
		return d.recordSchemaVersion(ctx, tx, 1)
	})
}

func (d *DB) recordSchemaVersion(ctx context.Context, tx *sql.Tx, version int) error {
	_, err := tx.ExecContext(ctx,
		d.rebind("INSERT INTO schema_changes (schema_version, changed_ts) VALUES (?, ?)"),
		version, float64(time.Now().UnixMicro())/1e6,
	)
	return err
}

type migrationStep func(ctx context.Context, d *DB, tx *sql.Tx) error

var migrationSteps = map[int]migrationStep{
	2: func(ctx context.Context, d *DB, tx *sql.Tx) error {
		if err := d.execDDL(ctx, tx, `
			CREATE TABLE IF NOT EXISTS event_types (
				event_type_id {pk},
				event_type VARCHAR(64)
			)`); err != nil {
			return err
		}
		return d.addColumn(ctx, tx, "events", "event_type_id", "BIGINT REFERENCES event_types(event_type_id)")
	},
	3: func(ctx context.Context, d *DB, tx *sql.Tx) error {
		if err := d.execDDL(ctx, tx, `
			CREATE TABLE IF NOT EXISTS states_meta (
				metadata_id {pk},
				entity_id VARCHAR(255)
			)`); err != nil {
			return err
		}
		return d.addColumn(ctx, tx, "states", "metadata_id", "BIGINT REFERENCES states_meta(metadata_id)")
	},
	4: func(ctx context.Context, d *DB, tx *sql.Tx) error {
		for _, table := range []string{"events", "states"} {
			for _, col := range []string{"context_id_bin", "context_user_id_bin", "context_parent_id_bin"} {
				if err := d.addColumn(ctx, tx, table, col, "{blob}"); err != nil {
					return err
				}
			}
		}
		return nil
	},
	5: func(ctx context.Context, d *DB, tx *sql.Tx) error {
		return d.execDDL(ctx, tx, `
			CREATE INDEX IF NOT EXISTS ix_event_data_hash ON event_data (hash);
			CREATE INDEX IF NOT EXISTS ix_state_attributes_hash ON state_attributes (hash);
			CREATE UNIQUE INDEX IF NOT EXISTS ix_event_types_event_type ON event_types (event_type);
			CREATE UNIQUE INDEX IF NOT EXISTS ix_states_meta_entity_id ON states_meta (entity_id);
			CREATE INDEX IF NOT EXISTS ix_events_event_type_id_time_fired_ts ON events (event_type_id, time_fired_ts);
			CREATE INDEX IF NOT EXISTS ix_states_metadata_id_last_updated_ts ON states (metadata_id, last_updated_ts);
			CREATE INDEX IF NOT EXISTS ix_events_context_id_bin ON events (context_id_bin);
			CREATE INDEX IF NOT EXISTS ix_states_context_id_bin ON states (context_id_bin)`)
	},
}

// baseSchema is the version 1 layout.
const baseSchema = `
CREATE TABLE IF NOT EXISTS event_data (
	data_id {pk},
	hash BIGINT,
	shared_data TEXT
);
CREATE TABLE IF NOT EXISTS events (
	event_id {pk},
	event_type VARCHAR(64),
	origin_idx SMALLINT,
	time_fired_ts {float},
	context_id VARCHAR(36),
	context_user_id VARCHAR(36),
	context_parent_id VARCHAR(36),
	data_id BIGINT REFERENCES event_data(data_id)
);
CREATE TABLE IF NOT EXISTS state_attributes (
	attributes_id {pk},
	hash BIGINT,
	shared_attrs TEXT
);
CREATE TABLE IF NOT EXISTS states (
	state_id {pk},
	entity_id VARCHAR(255),
	state VARCHAR(255),
	attributes_id BIGINT REFERENCES state_attributes(attributes_id),
	event_id BIGINT,
	last_changed_ts {float},
	last_updated_ts {float},
	old_state_id BIGINT REFERENCES states(state_id),
	origin_idx SMALLINT,
	context_id VARCHAR(36),
	context_user_id VARCHAR(36),
	context_parent_id VARCHAR(36)
);
CREATE INDEX IF NOT EXISTS ix_events_time_fired_ts ON events (time_fired_ts);
CREATE INDEX IF NOT EXISTS ix_events_data_id ON events (data_id);
CREATE INDEX IF NOT EXISTS ix_states_last_updated_ts ON states (last_updated_ts);
CREATE INDEX IF NOT EXISTS ix_states_old_state_id ON states (old_state_id);
CREATE INDEX IF NOT EXISTS ix_states_attributes_id ON states (attributes_id);
CREATE INDEX IF NOT EXISTS ix_states_event_id ON states (event_id);
CREATE TABLE IF NOT EXISTS recorder_runs (
	run_id {pk},
	run_uuid VARCHAR(36),
	start_ts {float} NOT NULL,
	end_ts {float},
	closed_incorrect SMALLINT NOT NULL DEFAULT 0,
	created_ts {float}
);
CREATE TABLE IF NOT EXISTS schema_changes (
	change_id {pk},
	schema_version INTEGER,
	changed_ts {float}
);
CREATE TABLE IF NOT EXISTS statistics_meta (
	id {pk},
	statistic_id VARCHAR(255) UNIQUE,
	source VARCHAR(32),
	unit_of_measurement VARCHAR(255),
	has_mean SMALLINT,
	has_sum SMALLINT,
	name VARCHAR(255)
);
CREATE TABLE IF NOT EXISTS statistics (
	id {pk},
	created_ts {float},
	metadata_id BIGINT REFERENCES statistics_meta(id) ON DELETE CASCADE,
	start_ts {float},
	mean {float},
	min {float},
	max {float},
	last_reset_ts {float},
	state {float},
	sum {float},
	UNIQUE (metadata_id, start_ts)
);
CREATE TABLE IF NOT EXISTS statistics_short_term (
	id {pk},
	created_ts {float},
	metadata_id BIGINT REFERENCES statistics_meta(id) ON DELETE CASCADE,
	start_ts {float},
	mean {float},
	min {float},
	max {float},
	last_reset_ts {float},
	state {float},
	sum {float},
	UNIQUE (metadata_id, start_ts)
)`

// ddlTypes substitutes dialect-specific column types into DDL templates.
func (d *DB) ddlTypes() *strings.Replacer {
	if d.dialect == DialectPostgres {
		return strings.NewReplacer(
			"{pk}", "BIGSERIAL PRIMARY KEY",
			"{blob}", "BYTEA",
			"{float}", "DOUBLE PRECISION",
		)
	}
	return strings.NewReplacer(
		"{pk}", "INTEGER PRIMARY KEY",
		"{blob}", "BLOB",
		"{float}", "FLOAT",
	)
}

// execDDL runs each ;-separated statement of a DDL template.
func (d *DB) execDDL(ctx context.Context, tx *sql.Tx, ddl string) error {
	for _, stmt := range strings.Split(d.ddlTypes().Replace(ddl), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// addColumn adds a column unless it already exists.
func (d *DB) addColumn(ctx context.Context, tx *sql.Tx, table, column, typ string) error {
	exists, err := d.columnExists(ctx, tx, table, column)
	if err != nil || exists {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ)
	return d.execDDL(ctx, tx, stmt)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) tableExists(ctx context.Context, q queryRower, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if d.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}
	var n int
	if err := q.QueryRowContext(ctx, d.rebind(query), table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) columnExists(ctx context.Context, q queryRower, table, column string) (bool, error) {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	if d.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?"
	}
	var n int
	if err := q.QueryRowContext(ctx, d.rebind(query), table, column).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// IndexExists reports whether the named index exists.
func (d *DB) IndexExists(ctx context.Context, index string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?"
	if d.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?"
	}
	var n int
	if err := d.db.QueryRowContext(ctx, d.rebind(query), index).Scan(&n); err != nil {
		return false, wrap("check index", err)
	}
	return n > 0, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
