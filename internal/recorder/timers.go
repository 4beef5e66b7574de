package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/recorder/internal/store"
)

const (
	statisticsPeriod = 5 * time.Minute
	nightlyHour      = 4
	nightlyMinute    = 12
)

// timerSet runs the periodic producers of maintenance tasks. They only
// enqueue; the engine does the work.
type timerSet struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

func (ts *timerSet) arm(ctx context.Context, fns ...func(context.Context)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped {
		return
	}
	ctx, ts.cancel = context.WithCancel(ctx)
	for _, fn := range fns {
		ts.wg.Add(1)
		go func() {
			defer ts.wg.Done()
			fn(ctx)
		}()
	}
}

// stop cancels the timers and waits for them. Timers armed after stop never
// start.
func (ts *timerSet) stop() {
	ts.mu.Lock()
	ts.stopped = true
	if ts.cancel != nil {
		ts.cancel()
	}
	ts.mu.Unlock()
	ts.wg.Wait()
}

// armTimers starts periodic maintenance. Called once migration is done.
func (r *Recorder) armTimers(ctx context.Context, target store.Target) {
	var fns []func(context.Context)
	if target.Dialect != store.DialectSQLite {
		fns = append(fns, every(r.cfg.KeepAliveInterval, func() {
			r.queue.Put(Task{Kind: TaskKeepAlive})
		}))
	}
	if r.cfg.CommitInterval > 0 {
		fns = append(fns, every(r.cfg.CommitInterval, func() {
			if r.dirty.Load() && !r.lockHeld.Load() {
				r.queue.Put(Task{Kind: TaskCommit})
			}
		}))
	}
	fns = append(fns, r.runNightly, r.runPeriodic)
	r.timers.arm(ctx, fns...)
}

func every(d time.Duration, fn func()) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}
}

func (r *Recorder) runNightly(ctx context.Context) {
	for {
		now := r.now()
		next := nextNightly(now)
		if !sleepCtx(ctx, next.Sub(now)) {
			return
		}
		r.queueNightly(next)
	}
}

// queueNightly queues the purge, or plain cleanup when auto purge is off.
func (r *Recorder) queueNightly(now time.Time) {
	if !r.cfg.AutoPurge {
		r.queue.Put(Task{Kind: TaskPeriodicCleanup})
		return
	}
	r.queue.Put(Task{
		Kind: TaskPurgeOlderThan,
		Purge: PurgeOptions{
			Before: now.AddDate(0, 0, -r.cfg.KeepDays),
			Repack: r.cfg.AutoRepack && isSecondSunday(now),
		},
	})
}

func (r *Recorder) runPeriodic(ctx context.Context) {
	for {
		now := r.now()
		next := now.Truncate(statisticsPeriod).Add(statisticsPeriod)
		if !sleepCtx(ctx, next.Sub(now)) {
			return
		}
		r.queue.Put(Task{Kind: TaskAdjustCacheCapacity})
		r.queue.Put(Task{Kind: TaskCompileStatistics, PeriodStart: previousPeriod(next)})
	}
}

// nextNightly returns the next 04:12 local time strictly after now.
func nextNightly(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), nightlyHour, nightlyMinute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func isSecondSunday(t time.Time) bool {
	return t.Weekday() == time.Sunday && t.Day() > 7 && t.Day() <= 14
}
