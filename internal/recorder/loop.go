package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/store"
)

// errContinued is returned by handlers that re-queued their task to finish
// later. The task's Done is resolved by the last run.
var errContinued = errors.New("task continues")

// engine is the state owned by the engine goroutine. Nothing in it is
// shared; producers reach it only through the task queue.
type engine struct {
	r    *Recorder
	db   *store.DB
	sess *session
	run  *store.Run

	// migrations holds the data migrations still queued.
	migrations map[TaskKind]struct{}

	// fatal stops the loop after an error that cannot be contained.
	fatal error
}

// run is the engine goroutine.
//
// CRITICAL: Every database access of the recorder happens here. All cache
// and session state is owned by this goroutine.
func (r *Recorder) run(ctx context.Context) {
	e := &engine{r: r, migrations: make(map[TaskKind]struct{})}
	defer close(r.done)
	defer e.finish()

	slog.Info("recorder starting", "db", RedactURL(r.cfg.DBURL))

	if err := e.connect(ctx); err != nil {
		slog.Error("recorder could not connect", "error", err)
		r.notifyFailure(NotifyConnectionFailed, "Recorder could not connect to the database", err)
		r.connected.Set(false)
		return
	}
	r.connected.Set(true)

	status, err := e.validate(ctx)
	if err != nil {
		r.notifyFailure(NotifyMigrationFailed, "Recorder could not validate the database schema", err)
		e.shutdown(ctx)
		return
	}
	e.sess = e.newSession(status.Fresh || status.Valid)

	if err := e.startRun(ctx); err != nil {
		slog.Error("could not record run start", "error", err)
	}

	wasReady := status.Valid || status.LiveMigrationPossible
	if wasReady {
		r.live.Store(!status.Valid)
		if err := e.activate(ctx); err != nil {
			slog.Error("could not check data migrations", "error", err)
		}
		r.ready.Set(true)

		// A live migration waits for the application to finish starting.
		if r.startupGate {
			started, err := r.appStarted.Wait(ctx)
			if err != nil || !started {
				slog.Info("recorder stopped before startup finished")
				e.shutdown(ctx)
				return
			}
		}
	}

	if !status.Valid {
		if err := e.migrateSchema(ctx, status); err != nil {
			r.notifyFailure(NotifyMigrationFailed, "Database migration failed", err)
			r.ready.Set(false)
			r.fullyMigrated.Set(false)
			e.shutdown(ctx)
			return
		}
	}

	if !wasReady {
		if err := e.activate(ctx); err != nil {
			slog.Error("could not check data migrations", "error", err)
		}
		r.ready.Set(true)
	}
	r.live.Store(false)
	if len(e.migrations) == 0 {
		r.fullyMigrated.Set(true)
	}

	// Catch up on the period missed while stopped.
	r.queue.Put(Task{Kind: TaskCompileStatistics, PeriodStart: previousPeriod(r.now())})
	e.adjustCacheCapacity(0)
	r.armTimers(ctx, e.db.Target())

	slog.Debug("recorder processing the queue")
	if e.replay(ctx) {
		e.loop(ctx)
	}
	e.shutdown(ctx)
}

// connect opens the database, retrying up to DBMaxRetries times. An
// unsupported URL fails at once.
func (e *engine) connect(ctx context.Context) error {
	cfg := e.r.cfg
	target, err := store.ParseURL(cfg.DBURL)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		db, err := e.open(ctx, target)
		if err == nil {
			e.db = db
			return nil
		}
		if errors.Is(err, store.ErrUnsupportedDialect) || attempt >= cfg.DBMaxRetries {
			return err
		}
		slog.Error("error during connection setup, retrying",
			"attempt", attempt+1,
			"max_retries", cfg.DBMaxRetries,
			"retry_wait", cfg.DBRetryWait,
			"error", err,
		)
		if !sleepCtx(ctx, cfg.DBRetryWait) {
			return ctx.Err()
		}
	}
}

// open connects once. A database file that is not SQLite is moved aside
// first so a fresh one can be created.
func (e *engine) open(ctx context.Context, target store.Target) (*store.DB, error) {
	if target.SingleFile() {
		ok, err := store.ValidFile(e.r.fs, target.Path)
		if err != nil {
			return nil, fmt.Errorf("inspect database file: %w", err)
		}
		if !ok {
			if err := e.moveAside(target.Path, errors.New("not a database file")); err != nil {
				return nil, err
			}
		}
	}
	return e.r.connect(ctx, e.r.cfg.DBURL)
}

// validate reads the schema version, creating a fresh schema when the
// database is empty. Corruption found here is recovered from once.
func (e *engine) validate(ctx context.Context) (store.SchemaStatus, error) {
	status, err := e.db.Validate(ctx)
	if err != nil && store.IsCorruption(err) {
		if rerr := e.recoverCorruption(ctx, err); rerr != nil {
			return status, rerr
		}
		status, err = e.db.Validate(ctx)
	}
	if err != nil {
		return status, err
	}
	if !status.Fresh {
		return status, nil
	}
	if err := e.db.CreateSchema(ctx); err != nil {
		return status, err
	}
	slog.Info("created database schema", "version", store.SchemaVersion)
	return store.SchemaStatus{
		Current:               store.SchemaVersion,
		Fresh:                 true,
		Valid:                 true,
		LiveMigrationPossible: true,
	}, nil
}

// newSession builds the session for the current connection. The lookup
// caches start inactive until activate proves no legacy rows remain.
func (e *engine) newSession(active bool) *session {
	s := newSession(e.db, e.r.wrapWriter(e.db), e.r.cfg, e.r.metrics)
	s.eventTypes.SetActive(active)
	s.statesMeta.SetActive(active)
	return s
}

// startRun opens the run marker for the current connection. A run already
// open, such as one started by corruption recovery, is kept.
func (e *engine) startRun(ctx context.Context) error {
	if e.run != nil {
		return nil
	}
	run, closed, err := e.db.StartRun(ctx, e.r.now())
	if err != nil {
		return err
	}
	if closed > 0 {
		slog.Warn("previous run ended uncleanly", "runs", closed)
	}
	e.run = run
	return nil
}

// replay processes everything queued before the loop started. The caches
// are primed from the whole batch first. It returns false if a Stop task
// was among them.
func (e *engine) replay(ctx context.Context) bool {
	tasks := e.r.queue.DrainAll()
	if len(tasks) == 0 {
		return true
	}
	var events []*model.Event
	for _, t := range tasks {
		if t.Kind == TaskRecordEvent && t.Event != nil {
			events = append(events, t.Event)
		}
	}
	if err := e.sess.preload(ctx, events, e.r.exclude); err != nil {
		slog.Warn("could not preload caches", "events", len(events), "error", err)
	}
	slog.Debug("replaying startup tasks", "tasks", len(tasks), "events", len(events))

	for i, t := range tasks {
		if t.Kind == TaskStop {
			for _, rest := range tasks[i+1:] {
				e.r.queue.Put(rest)
			}
			return false
		}
		e.process(ctx, t)
		if e.fatal != nil {
			return false
		}
	}
	return true
}

// loop runs tasks one at a time until Stop, cancellation, or a fatal
// error.
func (e *engine) loop(ctx context.Context) {
	for {
		t, ok := e.r.queue.Get(ctx)
		if !ok {
			slog.Info("recorder stopping", "reason", "context cancelled")
			return
		}
		if t.Kind == TaskStop {
			slog.Info("recorder stopping", "reason", "stop requested")
			t.resolve(nil)
			return
		}
		e.process(ctx, t)
		if e.fatal != nil {
			slog.Error("recorder stopping", "reason", "fatal error", "error", e.fatal)
			return
		}
	}
}

// process runs one task. A failing or panicking task is logged and the
// loop carries on.
func (e *engine) process(ctx context.Context, t Task) {
	kind := t.Kind.String()
	e.r.metrics.tasks.WithLabelValues(kind).Inc()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("task panicked", "task", kind, "panic", p)
			e.r.metrics.taskErrors.WithLabelValues(kind).Inc()
			e.sess.reopen()
			t.resolve(fmt.Errorf("task %s panicked: %v", kind, p))
		}
		e.r.dirty.Store(e.sess.hasPendingWrites())
	}()

	err := e.runTask(ctx, t)
	if errors.Is(err, errContinued) {
		return
	}
	if err != nil {
		e.r.metrics.taskErrors.WithLabelValues(kind).Inc()
		e.handleError(ctx, t, err)
	}
	t.resolve(err)
}

func (e *engine) runTask(ctx context.Context, t Task) error {
	if t.Kind.CommitBefore() {
		if err := e.sess.commitOrRetry(ctx); err != nil {
			return fmt.Errorf("commit before %s: %w", t.Kind, err)
		}
	}
	return e.handle(ctx, t)
}

// handleError contains a task failure. Corruption moves the database aside
// and reconnects; anything else discards the open batch.
func (e *engine) handleError(ctx context.Context, t Task, err error) {
	if store.IsCorruption(err) {
		if rerr := e.recoverCorruption(ctx, err); rerr != nil {
			e.fatal = fmt.Errorf("recover from corruption: %w", rerr)
		}
		return
	}
	slog.Error("error processing task",
		"task", t.Kind.String(),
		"error_kind", store.KindOf(err).String(),
		"error", err,
	)
	e.sess.reopen()
}

// handle dispatches t.
// CRITICAL: Called only from the engine goroutine.
func (e *engine) handle(ctx context.Context, t Task) error {
	r := e.r
	switch t.Kind {
	case TaskRecordEvent:
		if t.Event == nil {
			return errors.New("record event task without event")
		}
		if !r.enabled.Load() {
			return nil
		}
		if err := e.sess.recordEvent(ctx, t.Event, r.exclude); err != nil {
			return err
		}
		if r.cfg.CommitInterval == 0 {
			return e.sess.commitOrRetry(ctx)
		}
		return nil

	case TaskCommit:
		return e.sess.commitOrRetry(ctx)

	case TaskKeepAlive:
		return e.db.KeepAlive(ctx)

	case TaskSynchronize, TaskWaitForDrain:
		return nil

	case TaskAdjustCacheCapacity:
		e.adjustCacheCapacity(t.CacheCapacity)
		return nil

	case TaskLockDatabase:
		return e.holdLock(ctx, t.lock)

	case TaskMigrateEventTypeIDs, TaskMigrateEntityIDs, TaskMigrateEventsContextIDs,
		TaskMigrateStatesContextIDs, TaskCleanupLegacyEventIDs:
		return e.migrateData(ctx, t)

	case TaskPurgeOlderThan:
		return e.purge(ctx, t)

	case TaskPeriodicCleanup:
		return e.db.PeriodicCleanup(ctx)

	case TaskImportStatistics:
		if t.Statistics == nil {
			return errors.New("import statistics task without statistics")
		}
		s := t.Statistics
		return e.db.ImportStatistics(ctx, s.Metadata, s.Rows, s.ShortTerm)

	case TaskUpdateStatisticsMetadata:
		if t.StatisticsUpdate == nil {
			return errors.New("update statistics metadata task without update")
		}
		u := t.StatisticsUpdate
		return e.db.UpdateStatisticsMetadata(ctx, u.StatisticID, u.NewStatisticID, u.NewUnit)

	case TaskClearStatistics:
		return e.db.ClearStatistics(ctx, t.StatisticIDs)

	case TaskUpdateStatesMetadata:
		if err := e.db.UpdateStatesMetadata(ctx, t.EntityID, t.NewEntityID); err != nil {
			return err
		}
		e.sess.statesMeta.Evict(t.EntityID, t.NewEntityID)
		e.sess.states.EvictEntities(t.EntityID, t.NewEntityID)
		return nil

	case TaskCompileStatistics:
		if r.compiler == nil {
			return nil
		}
		return r.compiler.CompileStatistics(ctx, e.db.SQL(), t.PeriodStart)

	default:
		return fmt.Errorf("unknown task kind: %d", t.Kind)
	}
}

// adjustCacheCapacity grows the caches to n, or to twice the number of
// tracked entities when n is zero.
func (e *engine) adjustCacheCapacity(n int) {
	if n <= 0 {
		n = e.sess.states.Len() * 2
	}
	if n <= 0 {
		return
	}
	e.sess.adjustCapacity(n)
}

// purge removes one batch of old rows and re-queues itself until done.
func (e *engine) purge(ctx context.Context, t Task) error {
	res, err := e.db.PurgeOlderThan(ctx, t.Purge.Before)
	if err != nil {
		return err
	}
	e.sess.states.EvictStateIDs(res.StateIDs)
	e.sess.attributes.EvictIDs(res.AttributesIDs)
	e.sess.eventData.EvictIDs(res.DataIDs)

	if !res.Done {
		if !e.r.queue.Put(t) {
			return ErrNotRunning
		}
		return errContinued
	}
	slog.Info("purge finished", "before", t.Purge.Before.Format(time.RFC3339))
	if t.Purge.Repack {
		slog.Info("repacking database")
		return e.db.Repack(ctx)
	}
	return nil
}

// shutdown commits what is pending, closes the run and the connection.
// It runs even when ctx has ended.
func (e *engine) shutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if e.db == nil {
		return
	}
	if e.sess != nil {
		if err := e.sess.commitOrRetry(ctx); err != nil {
			slog.Error("final commit failed", "error", err)
		}
	}
	if e.run != nil {
		if err := e.db.EndRun(ctx, e.run, e.r.now()); err != nil {
			slog.Error("could not record run end", "error", err)
		}
		e.run = nil
	}
	if err := e.db.Close(); err != nil {
		slog.Warn("error closing database", "error", err)
	}
	e.db = nil
	slog.Info("recorder stopped")
}

// finish releases everyone still waiting on the engine.
func (e *engine) finish() {
	r := e.r
	r.timers.stop()
	r.recording.Store(false)
	r.queue.Close()
	for _, t := range r.queue.DrainAll() {
		t.resolve(ErrNotRunning)
		if t.lock != nil {
			t.lock.cancel()
		}
	}
	r.connected.Set(false)
	r.ready.Set(false)
	r.fullyMigrated.Set(false)
	r.migrationStarted.Set(false)
	r.dirty.Store(false)
	if e.db != nil {
		e.shutdown(context.Background())
	}
}

// previousPeriod returns the start of the five-minute period before the
// one containing now.
func previousPeriod(now time.Time) time.Time {
	return now.Truncate(5 * time.Minute).Add(-5 * time.Minute)
}
