package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/store"
)

// StatisticsCompiler derives statistics from recorded states for the
// five-minute period starting at start.
type StatisticsCompiler interface {
	CompileStatistics(ctx context.Context, db *sql.DB, start time.Time) error
}

// Recorder persists events through a single engine goroutine.
//
// Every exported method is safe for concurrent use and, apart from the
// explicit wait helpers, never blocks on storage.
type Recorder struct {
	cfg      Config
	filter   *entityFilter
	exclude  map[string]map[string]struct{}
	notifier Notifier
	compiler StatisticsCompiler
	fs       afero.Fs
	metrics  *metrics
	now      func() time.Time

	// connect, migrate and wrapWriter are replaced in tests.
	connect    func(ctx context.Context, url string) (*store.DB, error)
	migrate    func(db *store.DB, ctx context.Context, from int) error
	wrapWriter func(batchWriter) batchWriter

	queue *taskQueue

	connected        *Future[bool]
	ready            *Future[bool]
	migrationStarted *Future[bool]
	fullyMigrated    *Future[bool]
	backlogExceeded  *Future[int]
	appStarted       *Future[bool]
	startupGate      bool

	recording atomic.Bool // ingestion switch, tripped by the backlog monitor
	enabled   atomic.Bool // when false RecordEvent tasks are skipped
	dirty     atomic.Bool // mirror of the session's pending writes
	lockHeld  atomic.Bool
	migrating atomic.Bool
	live      atomic.Bool

	lockMu      sync.Mutex
	pendingLock *lockToken

	timers timerSet

	startOnce    sync.Once
	started      atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithNotifier routes notifications to n instead of the log.
func WithNotifier(n Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

// WithStatisticsCompiler sets the collaborator run every five minutes.
func WithStatisticsCompiler(c StatisticsCompiler) Option {
	return func(r *Recorder) { r.compiler = c }
}

// WithRegisterer registers the recorder's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Recorder) { r.metrics = newMetrics(reg, r.Backlog) }
}

// WithFs sets the filesystem used to inspect and move database files.
func WithFs(fs afero.Fs) Option {
	return func(r *Recorder) { r.fs = fs }
}

// WithClock replaces time.Now as the recorder's time source for purge
// cutoffs and statistics periods.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithStartupGate makes the engine wait for AppStarted before migrating or
// processing events.
func WithStartupGate() Option {
	return func(r *Recorder) { r.startupGate = true }
}

// New creates a Recorder. Events recorded before Start are queued and
// written once the engine is ready.
func New(cfg Config, opts ...Option) *Recorder {
	cfg = cfg.withDefaults()
	r := &Recorder{
		cfg:              cfg,
		filter:           newEntityFilter(cfg.Filter),
		exclude:          make(map[string]map[string]struct{}, len(cfg.ExcludeAttributesByDomain)),
		notifier:         logNotifier{},
		fs:               afero.NewOsFs(),
		now:              time.Now,
		connect:          store.Open,
		migrate:          (*store.DB).Migrate,
		wrapWriter:       func(w batchWriter) batchWriter { return w },
		queue:            newTaskQueue(),
		connected:        NewFuture[bool](),
		ready:            NewFuture[bool](),
		migrationStarted: NewFuture[bool](),
		fullyMigrated:    NewFuture[bool](),
		backlogExceeded:  NewFuture[int](),
		appStarted:       NewFuture[bool](),
		done:             make(chan struct{}),
	}
	for domain, attrs := range cfg.ExcludeAttributesByDomain {
		r.exclude[domain] = toSet(attrs)
	}
	r.recording.Store(true)
	r.enabled.Store(true)
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = newMetrics(prometheus.NewRegistry(), r.Backlog)
	}
	return r
}

// Start launches the engine goroutine and the backlog monitor. ctx bounds
// the engine's lifetime; cancelling it has the effect of Shutdown.
func (r *Recorder) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	r.startOnce.Do(func() {
		err = nil
		r.started.Store(true)
		r.startBacklogMonitor(ctx)
		go r.run(ctx)
	})
	return err
}

// AppStarted releases the startup gate.
func (r *Recorder) AppStarted() {
	r.appStarted.Set(true)
}

// RecordEvent queues ev for recording. It reports whether the event was
// accepted; filtered events and events offered while ingestion is off are
// dropped.
func (r *Recorder) RecordEvent(ev model.Event) bool {
	if !r.recording.Load() {
		return false
	}
	if !r.filter.allowsEvent(&ev) {
		return false
	}
	return r.queue.Put(Task{Kind: TaskRecordEvent, Event: &ev})
}

// Submit queues t. It returns false if the engine has stopped; a Done
// future on t is then resolved with ErrNotRunning.
func (r *Recorder) Submit(t Task) bool {
	if t.Kind == TaskLockDatabase {
		t.resolve(fmt.Errorf("%s tasks are submitted through LockDatabase", t.Kind))
		return false
	}
	if !r.queue.Put(t) {
		t.resolve(ErrNotRunning)
		return false
	}
	return true
}

// submitAndWait queues t with a fresh Done future and waits for it.
func (r *Recorder) submitAndWait(ctx context.Context, t Task) error {
	t.Done = NewFuture[error]()
	if !r.Submit(t) {
		return ErrNotRunning
	}
	err, werr := t.Done.Wait(ctx)
	if werr != nil {
		return werr
	}
	return err
}

// Backlog returns the number of queued tasks.
func (r *Recorder) Backlog() int { return r.queue.Len() }

// Recording reports whether new events are accepted.
func (r *Recorder) Recording() bool { return r.recording.Load() }

// SetEnabled pauses or resumes writing events. Paused events are still
// queued and then skipped.
func (r *Recorder) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Connected resolves once the first connection attempt sequence finishes.
func (r *Recorder) Connected() *Future[bool] { return r.connected }

// Ready resolves true once the database can take writes, false if it never
// will.
func (r *Recorder) Ready() *Future[bool] { return r.ready }

// MigrationStarted resolves true when a schema migration begins.
func (r *Recorder) MigrationStarted() *Future[bool] { return r.migrationStarted }

// FullyMigrated resolves true once the schema and every data migration are
// complete.
func (r *Recorder) FullyMigrated() *Future[bool] { return r.fullyMigrated }

// BacklogExceeded resolves with the backlog observed when ingestion was
// switched off.
func (r *Recorder) BacklogExceeded() *Future[int] { return r.backlogExceeded }

// MigrationInProgress reports whether a schema migration is running.
func (r *Recorder) MigrationInProgress() bool { return r.migrating.Load() }

// MigrationIsLive reports whether the running migration allows recording.
func (r *Recorder) MigrationIsLive() bool { return r.live.Load() }

// Stopped is closed once the engine goroutine has exited.
func (r *Recorder) Stopped() <-chan struct{} { return r.done }

// BlockTillDone waits until everything queued so far has been processed.
// It returns at once if nothing is queued or pending.
func (r *Recorder) BlockTillDone(ctx context.Context) error {
	if r.queue.Len() == 0 && !r.dirty.Load() {
		return nil
	}
	return r.submitAndWait(ctx, Task{Kind: TaskSynchronize})
}

// WaitForDrain waits until the tasks queued before the call have run.
// It must not be called from the engine goroutine.
func (r *Recorder) WaitForDrain(ctx context.Context) error {
	return r.submitAndWait(ctx, Task{Kind: TaskWaitForDrain})
}

// Flush commits everything recorded so far and waits for the commit.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.submitAndWait(ctx, Task{Kind: TaskCommit})
}

// Purge removes history older than keepDays and waits for it to finish.
func (r *Recorder) Purge(ctx context.Context, keepDays int, repack bool) error {
	return r.submitAndWait(ctx, Task{
		Kind:  TaskPurgeOlderThan,
		Purge: PurgeOptions{Before: r.now().AddDate(0, 0, -keepDays), Repack: repack},
	})
}

// ImportStatistics stores externally computed statistics.
func (r *Recorder) ImportStatistics(ctx context.Context, imp StatisticsImport) error {
	return r.submitAndWait(ctx, Task{Kind: TaskImportStatistics, Statistics: &imp})
}

// UpdateStatisticsMetadata renames a statistic or changes its unit.
func (r *Recorder) UpdateStatisticsMetadata(ctx context.Context, upd StatisticsUpdate) error {
	return r.submitAndWait(ctx, Task{Kind: TaskUpdateStatisticsMetadata, StatisticsUpdate: &upd})
}

// ClearStatistics removes statistics and their rows.
func (r *Recorder) ClearStatistics(ctx context.Context, statisticIDs []string) error {
	return r.submitAndWait(ctx, Task{Kind: TaskClearStatistics, StatisticIDs: statisticIDs})
}

// UpdateStatesMetadata renames a recorded entity.
func (r *Recorder) UpdateStatesMetadata(ctx context.Context, entityID, newEntityID string) error {
	return r.submitAndWait(ctx, Task{Kind: TaskUpdateStatesMetadata, EntityID: entityID, NewEntityID: newEntityID})
}

// AdjustCacheCapacity grows the content caches to at least n entries.
func (r *Recorder) AdjustCacheCapacity(n int) bool {
	return r.Submit(Task{Kind: TaskAdjustCacheCapacity, CacheCapacity: n})
}

// EmptyQueue discards everything still queued and asks the engine to stop.
// Used at final shutdown when there is no time left to write the backlog.
func (r *Recorder) EmptyQueue() {
	for _, t := range r.queue.DrainAll() {
		t.resolve(ErrNotRunning)
		if t.lock != nil {
			t.lock.cancel()
		}
	}
	r.queue.Put(Task{Kind: TaskStop})
}

// Shutdown stops the timers, lets the engine write what is queued, closes
// the run and the connection, and waits for the engine to exit.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.timers.stop()
		// Nothing to wait for if the app never started.
		r.appStarted.Set(false)
		r.queue.Put(Task{Kind: TaskStop})
	})
	if !r.started.Load() {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// notifyFailure logs err and raises a notification.
func (r *Recorder) notifyFailure(id, title string, err error) {
	slog.Error(title, "error", err)
	r.notifier.Notify(id, title, err.Error())
}
