package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/recorder/internal/cache"
	"github.com/roach88/recorder/internal/store"
)

// batchWriter persists a batch. *store.DB is the production writer.
type batchWriter interface {
	WriteBatch(ctx context.Context, b *store.Batch) error
}

// session is the engine's open transaction: the batch of rows not yet
// committed plus the content caches that index them. Owned by the engine
// goroutine.
type session struct {
	db     *store.DB
	writer batchWriter

	batch      *store.Batch
	eventTypes *cache.Cache[*store.EventTypeRow]
	eventData  *cache.Cache[*store.EventDataRow]
	statesMeta *cache.Cache[*store.StatesMetaRow]
	attributes *cache.Cache[*store.StateAttributesRow]
	states     *cache.StatesTracker[*store.StateRow]

	maxRetries  int
	retryWait   time.Duration
	expireAfter int
	commits     int

	metrics *metrics
}

func newSession(db *store.DB, writer batchWriter, cfg Config, m *metrics) *session {
	return &session{
		db:          db,
		writer:      writer,
		batch:       store.NewBatch(),
		eventTypes:  cache.New[*store.EventTypeRow]("event_types", cfg.CacheCapacity, db.EventTypeIDs),
		eventData:   cache.New[*store.EventDataRow]("event_data", cfg.CacheCapacity, db.EventDataIDs),
		statesMeta:  cache.New[*store.StatesMetaRow]("states_meta", cfg.CacheCapacity, db.StatesMetaIDs),
		attributes:  cache.New[*store.StateAttributesRow]("state_attributes", cfg.CacheCapacity, db.AttributesIDs),
		states:      cache.NewStatesTracker[*store.StateRow](),
		maxRetries:  cfg.DBMaxRetries,
		retryWait:   cfg.DBRetryWait,
		expireAfter: cfg.ExpireAfterCommits,
		metrics:     m,
	}
}

// hasPendingWrites reports whether the open batch holds rows.
func (s *session) hasPendingWrites() bool {
	return s.batch.Dirty()
}

// commitOrRetry commits the open batch. Transient failures are retried up
// to maxRetries times, sleeping retryWait between attempts. Any other
// failure, or the last transient one, is returned and the batch is left
// as it was.
func (s *session) commitOrRetry(ctx context.Context) error {
	if !s.hasPendingWrites() {
		return nil
	}
	for attempt := 0; ; attempt++ {
		err := s.commit(ctx)
		if err == nil {
			return nil
		}
		if !store.IsTransient(err) || attempt >= s.maxRetries {
			return err
		}
		slog.Warn("commit failed, retrying",
			"attempt", attempt+1,
			"max_retries", s.maxRetries,
			"error", err,
		)
		s.metrics.commitRetries.Inc()
		if !sleepCtx(ctx, s.retryWait) {
			return ctx.Err()
		}
	}
}

func (s *session) commit(ctx context.Context) error {
	if err := s.writer.WriteBatch(ctx, s.batch); err != nil {
		return err
	}
	s.eventTypes.PostCommit()
	s.eventData.PostCommit()
	s.statesMeta.PostCommit()
	s.attributes.PostCommit()
	s.states.PostCommit()
	s.batch.Reset()

	s.metrics.commits.Inc()
	s.commits++
	if s.commits%s.expireAfter == 0 {
		// Periodically drop prepared statements so they are revalidated.
		s.db.ExpireStatements()
	}
	return nil
}

// reopen discards the open batch and every cache after an unrecoverable
// write or query error.
func (s *session) reopen() {
	s.batch.Reset()
	s.resetCaches()
}

func (s *session) resetCaches() {
	s.eventTypes.Reset()
	s.eventData.Reset()
	s.statesMeta.Reset()
	s.attributes.Reset()
	s.states.Reset()
}

// adjustCapacity grows every content cache to at least n entries.
func (s *session) adjustCapacity(n int) {
	s.eventTypes.AdjustCapacity(n)
	s.eventData.AdjustCapacity(n)
	s.statesMeta.AdjustCapacity(n)
	s.attributes.AdjustCapacity(n)
}

// sleepCtx sleeps for d. It returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
