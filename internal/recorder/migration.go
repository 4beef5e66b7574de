package recorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/recorder/internal/store"
)

// migrateSchema upgrades the schema to the latest version. Corruption
// found during the upgrade is recovered from by starting over with a fresh
// database, which counts as success.
func (e *engine) migrateSchema(ctx context.Context, status store.SchemaStatus) error {
	r := e.r
	r.migrating.Store(true)
	defer r.migrating.Store(false)

	r.migrationStarted.Set(true)
	r.notifier.Notify(NotifyMigration, "Database upgrade in progress",
		"Performance will degrade until the database upgrade completes. Do not stop the recorder.")
	slog.Warn("database schema migration started",
		"from", status.Current,
		"to", store.SchemaVersion,
		"live", status.LiveMigrationPossible,
	)

	err := r.migrate(e.db, ctx, status.Current)
	if err != nil && store.IsCorruption(err) {
		err = e.recoverCorruption(ctx, err)
	}
	if err != nil {
		return fmt.Errorf("migrate schema from %d: %w", status.Current, err)
	}
	r.notifier.Dismiss(NotifyMigration)
	slog.Info("database schema migration finished", "version", store.SchemaVersion)
	return nil
}

// dataMigration ties a follow-up migration task to its check, its batch
// step and the cache it unlocks.
type dataMigration struct {
	kind  TaskKind
	needs func(*store.DB, context.Context) (bool, error)
	step  func(*store.DB, context.Context) (bool, error)
	// activate runs once no rows are left.
	activate func(*session)
}

var dataMigrations = []dataMigration{
	{
		kind:  TaskMigrateStatesContextIDs,
		needs: (*store.DB).NeedsStatesContextMigration,
		step:  (*store.DB).MigrateStatesContextIDs,
	},
	{
		kind:  TaskMigrateEventsContextIDs,
		needs: (*store.DB).NeedsEventsContextMigration,
		step:  (*store.DB).MigrateEventsContextIDs,
	},
	{
		kind:     TaskMigrateEventTypeIDs,
		needs:    (*store.DB).NeedsEventTypeMigration,
		step:     (*store.DB).MigrateEventTypeIDs,
		activate: func(s *session) { s.eventTypes.SetActive(true) },
	},
	{
		kind:     TaskMigrateEntityIDs,
		needs:    (*store.DB).NeedsEntityIDMigration,
		step:     (*store.DB).MigrateEntityIDs,
		activate: func(s *session) { s.statesMeta.SetActive(true) },
	},
	{
		kind:  TaskCleanupLegacyEventIDs,
		needs: (*store.DB).NeedsLegacyEventIDCleanup,
		step:  (*store.DB).CleanupLegacyEventIDs,
	},
}

func findDataMigration(kind TaskKind) (dataMigration, bool) {
	for _, m := range dataMigrations {
		if m.kind == kind {
			return m, true
		}
	}
	return dataMigration{}, false
}

// activate switches on every cache whose data is fully migrated and queues
// the migrations still needed ahead of everything else. Migrations already
// queued are left alone.
func (e *engine) activate(ctx context.Context) error {
	var queued []TaskKind
	for _, m := range dataMigrations {
		if _, ok := e.migrations[m.kind]; ok {
			continue
		}
		needed, err := m.needs(e.db, ctx)
		if err != nil {
			return fmt.Errorf("check %s: %w", m.kind, err)
		}
		if !needed {
			if m.activate != nil {
				slog.Debug("activating cache, data already migrated", "migration", m.kind.String())
				m.activate(e.sess)
			}
			continue
		}
		queued = append(queued, m.kind)
	}
	// PushFront reverses, so walk backwards to keep the declared order.
	for i := len(queued) - 1; i >= 0; i-- {
		kind := queued[i]
		if e.r.queue.PushFront(Task{Kind: kind}) {
			e.migrations[kind] = struct{}{}
			slog.Info("queued data migration", "migration", kind.String())
		}
	}
	return nil
}

// migrateData runs one batch of a data migration and re-queues it until no
// rows are left.
func (e *engine) migrateData(ctx context.Context, t Task) error {
	m, ok := findDataMigration(t.Kind)
	if !ok {
		return fmt.Errorf("no data migration for %s", t.Kind)
	}
	done, err := m.step(e.db, ctx)
	if err != nil {
		return err
	}
	if !done {
		if !e.r.queue.Put(Task{Kind: t.Kind, Done: t.Done}) {
			return ErrNotRunning
		}
		return errContinued
	}

	slog.Info("data migration finished", "migration", t.Kind.String())
	if m.activate != nil {
		m.activate(e.sess)
	}
	delete(e.migrations, t.Kind)
	if len(e.migrations) == 0 {
		e.r.fullyMigrated.Set(true)
	}
	return nil
}
