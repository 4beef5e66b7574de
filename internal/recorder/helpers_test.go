package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/store"
	"github.com/roach88/recorder/internal/testutil"
)

const testTimeout = 10 * time.Second

// testConfig returns a config for a file database in a temp dir with fast
// retries and no commit timer.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBURL = testutil.SQLiteURL(t)
	cfg.DBMaxRetries = 2
	cfg.DBRetryWait = time.Millisecond
	cfg.CommitInterval = time.Hour
	return cfg
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// startRecorder starts a recorder and waits until it is ready. It is shut
// down when the test ends.
func startRecorder(t *testing.T, cfg Config, opts ...Option) *Recorder {
	t.Helper()
	return runUntilReady(t, New(cfg, opts...))
}

// runUntilReady starts a recorder built by the test and waits until it is
// ready.
func runUntilReady(t *testing.T, r *Recorder) *Recorder {
	t.Helper()
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	ready, err := r.Ready().Wait(testContext(t))
	require.NoError(t, err)
	require.True(t, ready)
	return r
}

// stopRecorder shuts r down so its database can be inspected.
func stopRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	require.NoError(t, r.Shutdown(testContext(t)))
}

// openStore opens the recorder's database for assertions.
func openStore(t *testing.T, cfg Config) *store.DB {
	t.Helper()
	db, err := store.Open(testContext(t), cfg.DBURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *store.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.SQL().QueryRow(query, args...).Scan(&n))
	return n
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stateEvent builds a state change for entityID at baseTime plus offset.
func stateEvent(entityID, state string, attrs map[string]any, offset time.Duration) model.Event {
	at := baseTime.Add(offset)
	return model.NewStateChangedEvent(entityID, nil, &model.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attrs,
		LastChanged: at,
		LastUpdated: at,
	})
}
