package recorder

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/recorder/internal/store"
)

// lockToken connects a LockDatabase caller with the engine holding the
// lock.
type lockToken struct {
	// acquired resolves with nil once the lock is held, or with the error
	// that prevented it.
	acquired *Future[error]
	// release resolves true when the caller unlocks, false when it gave up
	// waiting.
	release *Future[bool]
	// overflow is set when the engine let go because the backlog grew too
	// large.
	overflow atomic.Bool
}

func newLockToken() *lockToken {
	return &lockToken{
		acquired: NewFuture[error](),
		release:  NewFuture[bool](),
	}
}

func (t *lockToken) cancel() { t.release.Set(false) }

// LockDatabase asks the engine to hold an exclusive lock on the database
// file so it can be copied. It returns once the lock is held, after
// LockTimeout, or when ctx ends. Only one lock may be outstanding; the
// caller must call UnlockDatabase.
//
// Server databases have nothing to lock and report success at once.
func (r *Recorder) LockDatabase(ctx context.Context) (bool, error) {
	target, err := store.ParseURL(r.cfg.DBURL)
	if err != nil {
		return false, err
	}
	if !target.SingleFile() {
		return true, nil
	}

	r.lockMu.Lock()
	if r.pendingLock != nil {
		r.lockMu.Unlock()
		return false, ErrLockInProgress
	}
	tok := newLockToken()
	r.pendingLock = tok
	r.lockMu.Unlock()

	if !r.queue.Put(Task{Kind: TaskLockDatabase, lock: tok}) {
		r.clearLock(tok)
		return false, ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LockTimeout)
	defer cancel()
	lockErr, err := tok.acquired.Wait(ctx)
	if err != nil {
		tok.cancel()
		r.clearLock(tok)
		slog.Warn("timed out waiting for database lock", "timeout", r.cfg.LockTimeout)
		return false, ErrLockTimeout
	}
	if lockErr != nil {
		r.clearLock(tok)
		return false, lockErr
	}
	return true, nil
}

// UnlockDatabase releases the lock taken by LockDatabase. It returns false
// if the engine had to let go early because the backlog grew too large, in
// which case a copy taken under the lock cannot be trusted.
func (r *Recorder) UnlockDatabase() bool {
	r.lockMu.Lock()
	tok := r.pendingLock
	r.pendingLock = nil
	r.lockMu.Unlock()

	if tok == nil {
		return true
	}
	tok.release.Set(true)
	return !tok.overflow.Load()
}

// DatabaseLocked reports whether the engine currently holds the file lock.
func (r *Recorder) DatabaseLocked() bool { return r.lockHeld.Load() }

func (r *Recorder) clearLock(tok *lockToken) {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.pendingLock == tok {
		r.pendingLock = nil
	}
}

// holdLock takes the file lock and holds it until the caller releases it or
// the backlog passes the overflow threshold.
func (e *engine) holdLock(ctx context.Context, tok *lockToken) error {
	if tok == nil {
		return nil
	}
	if _, gaveUp := tok.release.Value(); gaveUp {
		// The caller timed out or already unlocked before we got here.
		return nil
	}

	r := e.r
	fl, err := e.db.LockExclusive(ctx)
	if err != nil {
		tok.acquired.Set(err)
		return err
	}
	r.lockHeld.Store(true)
	defer func() {
		r.lockHeld.Store(false)
		if err := fl.Unlock(context.WithoutCancel(ctx)); err != nil {
			slog.Error("could not release database lock", "error", err)
		}
	}()

	tok.acquired.Set(nil)
	slog.Info("database locked")

	limit := r.cfg.lockOverflowBacklog()
	ticker := time.NewTicker(r.cfg.LockQueueCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tok.release.Done():
			slog.Info("database unlocked")
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if backlog := r.queue.Len(); backlog > limit {
				tok.overflow.Store(true)
				slog.Error("database lock released early, backlog too large",
					"backlog", backlog,
					"limit", limit,
				)
				return nil
			}
		}
	}
}
