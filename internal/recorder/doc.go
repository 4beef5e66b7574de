// Package recorder implements the single-writer persistence engine.
//
// A Recorder owns one engine goroutine. Producers hand it work through a FIFO
// task queue (RecordEvent, Submit, and the helpers built on them) and never
// block on storage. The engine goroutine alone owns the database session,
// the content caches and the schema migration state; nothing else touches
// them.
//
// # Lifecycle
//
//	New -> Start -> connect -> validate schema -> migrate -> ready -> loop -> Shutdown
//
// Progress is published through one-shot futures: Connected, Ready,
// MigrationStarted, FullyMigrated and BacklogExceeded.
//
// # Ordering
//
// Tasks run strictly in submission order. Tasks that need a consistent view
// of storage commit the open batch first. The only exceptions are follow-up
// data migrations, which are queued ahead of normal traffic when the engine
// starts.
//
// # Failure handling
//
//   - A failing or panicking task is logged and the open batch is discarded.
//   - Transient commit failures are retried with a fixed delay.
//   - Storage corruption moves the database aside and starts over once.
//   - Connection and migration failures stop the engine.
package recorder
