package recorder

import (
	"context"
	"log/slog"
	"time"
)

// startBacklogMonitor checks the backlog every QueueCheckInterval until it
// trips or the recorder stops.
func (r *Recorder) startBacklogMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.QueueCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				if r.checkBacklog() {
					return
				}
			}
		}
	}()
}

// checkBacklog stops ingestion once the backlog passes MaxQueueBacklog and
// reports whether it did. Ingestion stays off for the rest of the run;
// what is already queued is still written.
func (r *Recorder) checkBacklog() bool {
	backlog := r.queue.Len()
	if backlog <= r.cfg.MaxQueueBacklog {
		return false
	}
	r.recording.Store(false)
	if r.backlogExceeded.Set(backlog) {
		r.metrics.backlogExceeded.Inc()
		slog.Error("queue backlog reached the maximum, no longer recording events",
			"backlog", backlog,
			"max", r.cfg.MaxQueueBacklog,
		)
	}
	return true
}
