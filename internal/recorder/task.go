package recorder

import (
	"time"

	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/store"
)

// TaskKind identifies the operation a Task performs.
type TaskKind int

const (
	// TaskRecordEvent writes one event or state change to the open batch.
	TaskRecordEvent TaskKind = iota + 1
	// TaskCommit commits the open batch.
	TaskCommit
	// TaskKeepAlive pings a server database.
	TaskKeepAlive
	// TaskSynchronize resolves Done once everything before it has run.
	TaskSynchronize
	// TaskStop ends the engine loop.
	TaskStop
	// TaskAdjustCacheCapacity grows the content caches.
	TaskAdjustCacheCapacity
	// TaskLockDatabase holds the database file lock for an external backup.
	TaskLockDatabase
	// TaskMigrateEventTypeIDs moves one batch of event types to event_types.
	TaskMigrateEventTypeIDs
	// TaskMigrateEntityIDs moves one batch of entity ids to states_meta.
	TaskMigrateEntityIDs
	// TaskMigrateEventsContextIDs converts one batch of event context ids.
	TaskMigrateEventsContextIDs
	// TaskMigrateStatesContextIDs converts one batch of state context ids.
	TaskMigrateStatesContextIDs
	// TaskCleanupLegacyEventIDs clears one batch of legacy state links.
	TaskCleanupLegacyEventIDs
	// TaskPurgeOlderThan removes one batch of old history.
	TaskPurgeOlderThan
	// TaskPeriodicCleanup runs nightly housekeeping without deleting data.
	TaskPeriodicCleanup
	// TaskImportStatistics upserts statistics rows.
	TaskImportStatistics
	// TaskUpdateStatisticsMetadata renames a statistic or changes its unit.
	TaskUpdateStatisticsMetadata
	// TaskClearStatistics removes statistics.
	TaskClearStatistics
	// TaskUpdateStatesMetadata renames an entity.
	TaskUpdateStatesMetadata
	// TaskCompileStatistics runs the statistics compiler for one period.
	TaskCompileStatistics
	// TaskWaitForDrain resolves Done once everything before it has run.
	TaskWaitForDrain
)

var taskKindNames = map[TaskKind]string{
	TaskRecordEvent:              "record_event",
	TaskCommit:                   "commit",
	TaskKeepAlive:                "keep_alive",
	TaskSynchronize:              "synchronize",
	TaskStop:                     "stop",
	TaskAdjustCacheCapacity:      "adjust_cache_capacity",
	TaskLockDatabase:             "lock_database",
	TaskMigrateEventTypeIDs:      "migrate_event_type_ids",
	TaskMigrateEntityIDs:         "migrate_entity_ids",
	TaskMigrateEventsContextIDs:  "migrate_events_context_ids",
	TaskMigrateStatesContextIDs:  "migrate_states_context_ids",
	TaskCleanupLegacyEventIDs:    "cleanup_legacy_event_ids",
	TaskPurgeOlderThan:           "purge",
	TaskPeriodicCleanup:          "periodic_cleanup",
	TaskImportStatistics:         "import_statistics",
	TaskUpdateStatisticsMetadata: "update_statistics_metadata",
	TaskClearStatistics:          "clear_statistics",
	TaskUpdateStatesMetadata:     "update_states_metadata",
	TaskCompileStatistics:        "compile_statistics",
	TaskWaitForDrain:             "wait_for_drain",
}

func (k TaskKind) String() string {
	if name, ok := taskKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// CommitBefore reports whether pending writes must be committed before a
// task of this kind runs. Tasks that read or rewrite stored rows need every
// earlier write flushed first.
func (k TaskKind) CommitBefore() bool {
	switch k {
	case TaskRecordEvent, TaskCommit, TaskKeepAlive, TaskSynchronize,
		TaskWaitForDrain, TaskAdjustCacheCapacity:
		return false
	default:
		return true
	}
}

// Task is one unit of work for the engine goroutine. Only the fields
// relevant to Kind are set. A task must not be modified after it is
// submitted.
type Task struct {
	Kind TaskKind

	// Event is set for TaskRecordEvent.
	Event *model.Event

	// Done, when set, is resolved with the task's outcome once it has run,
	// or with ErrNotRunning if it never will.
	Done *Future[error]

	// Purge is set for TaskPurgeOlderThan.
	Purge PurgeOptions

	// Statistics is set for TaskImportStatistics.
	Statistics *StatisticsImport

	// StatisticsUpdate is set for TaskUpdateStatisticsMetadata.
	StatisticsUpdate *StatisticsUpdate

	// StatisticIDs is set for TaskClearStatistics.
	StatisticIDs []string

	// EntityID and NewEntityID are set for TaskUpdateStatesMetadata.
	EntityID    string
	NewEntityID string

	// PeriodStart is set for TaskCompileStatistics.
	PeriodStart time.Time

	// CacheCapacity optionally fixes the target for
	// TaskAdjustCacheCapacity. Zero sizes the caches from the number of
	// entities seen.
	CacheCapacity int

	lock *lockToken
}

// PurgeOptions configures a purge.
type PurgeOptions struct {
	// Before is the cutoff; older rows are removed.
	Before time.Time
	// Repack reclaims disk space once the purge finishes.
	Repack bool
}

// StatisticsImport is a batch of externally computed statistics.
type StatisticsImport struct {
	Metadata  store.StatisticMetadata
	Rows      []store.StatisticRow
	ShortTerm bool
}

// StatisticsUpdate changes a statistic's id and/or unit. Nil fields are
// left unchanged.
type StatisticsUpdate struct {
	StatisticID    string
	NewStatisticID *string
	NewUnit        *string
}

// resolve reports the outcome to whoever waits on the task.
func (t Task) resolve(err error) {
	if t.Done != nil {
		t.Done.Set(err)
	}
}
