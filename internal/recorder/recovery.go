package recorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/recorder/internal/store"
)

// recoverCorruption replaces a corrupt database with a fresh one: the open
// batch is dropped, the file is moved aside and a new schema and run are
// created. It is tried once per fault; an error here is final.
func (e *engine) recoverCorruption(ctx context.Context, cause error) error {
	slog.Error("database corruption detected, starting a new database", "error", cause)

	if e.sess != nil {
		e.sess.reopen()
	}
	target := e.db.Target()
	if err := e.db.Close(); err != nil {
		slog.Debug("error closing corrupt database", "error", err)
	}
	e.db = nil
	e.run = nil

	if target.SingleFile() {
		if err := e.moveAside(target.Path, cause); err != nil {
			return err
		}
	}

	db, err := e.r.connect(ctx, e.r.cfg.DBURL)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	e.db = db
	status, err := db.Validate(ctx)
	if err != nil {
		return fmt.Errorf("validate new database: %w", err)
	}
	if !status.Fresh && !status.Valid {
		return fmt.Errorf("new database is at schema %d and needs migration", status.Current)
	}
	if status.Fresh {
		if err := db.CreateSchema(ctx); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	e.sess = e.newSession(status.Fresh)
	if !status.Fresh {
		if err := e.activate(ctx); err != nil {
			slog.Error("could not check data migrations", "error", err)
		}
	}
	if err := e.startRun(ctx); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// moveAside renames a broken database file so a new one can take its path.
func (e *engine) moveAside(path string, cause error) error {
	dest, err := store.MoveAside(e.r.fs, path, e.r.now())
	if err != nil {
		return err
	}
	e.r.metrics.corruptionRecoveries.Inc()
	if dest != "" {
		slog.Warn("moved unusable database aside", "path", path, "moved_to", dest)
		e.r.notifier.Notify(NotifyCorruption, "Database was corrupt",
			fmt.Sprintf("The database was unusable (%v) and was moved to %s. A new database was started.", cause, dest))
	}
	return nil
}
