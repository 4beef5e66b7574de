// Package store is the recorder's storage-backend adapter.
//
// A connection URL selects the dialect and pool strategy:
//
//	sqlite://                 in-memory SQLite, one connection
//	sqlite:///path/to/file.db SQLite file, one connection
//	postgresql://...          PostgreSQL through pgx, recycling pool
//
// Every error leaving this package through a DB method is an *Error carrying
// a Kind decided once, here, from the driver's error codes. Callers branch on
// KindOf instead of inspecting driver errors.
//
// # Tables
//
//   - event_types, event_data, events
//   - states_meta, state_attributes, states
//   - recorder_runs, schema_changes
//   - statistics_meta, statistics, statistics_short_term
//
// Writes from the recorder's open transaction are collected in a Batch and
// inserted in one database transaction by WriteBatch. Schema changes are
// versioned in schema_changes; see SchemaVersion.
//
// # SQLite configuration
//
//   - WAL mode for concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// The pragmas are applied by a connect hook, so every physical connection
// gets them.
package store
