package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockDatabase_AtMostOne(t *testing.T) {
	cfg := testConfig(t)
	r := startRecorder(t, cfg)
	ctx := testContext(t)

	ok, err := r.LockDatabase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.DatabaseLocked())

	start := time.Now()
	ok, err = r.LockDatabase(ctx)
	assert.ErrorIs(t, err, ErrLockInProgress)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)

	// Events queue up while the lock is held and are written after.
	require.True(t, r.RecordEvent(stateEvent("light.a", "on", nil, 0)))
	assert.True(t, r.UnlockDatabase())
	require.NoError(t, r.Flush(ctx))
	assert.False(t, r.DatabaseLocked())

	stopRecorder(t, r)
	db := openStore(t, cfg)
	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM states"))
}

func TestLockDatabase_OverflowReleasesEarly(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQueueBacklog = 10
	cfg.LockOverflowRatio = 0.5
	cfg.LockQueueCheckInterval = 5 * time.Millisecond
	r := startRecorder(t, cfg)
	ctx := testContext(t)

	ok, err := r.LockDatabase(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 6; i++ {
		require.True(t, r.RecordEvent(stateEvent("sensor.t", "20", nil, time.Duration(i)*time.Second)))
	}
	require.Eventually(t, func() bool { return !r.DatabaseLocked() }, testTimeout, 5*time.Millisecond)

	assert.False(t, r.UnlockDatabase(), "backup window was violated")
	require.NoError(t, r.Flush(ctx))

	// A new lock can be taken once the old one is released.
	ok, err = r.LockDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, r.UnlockDatabase())
}

func TestLockDatabase_Timeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockTimeout = 20 * time.Millisecond
	// Not started: nothing takes the lock.
	r := New(cfg)

	ok, err := r.LockDatabase(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, ok)

	// The timed out request was retracted.
	_, err = r.LockDatabase(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)

	tasks := r.queue.DrainAll()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		released, done := task.lock.release.Value()
		assert.True(t, done)
		assert.False(t, released)
	}
}

func TestLockDatabase_ServerAndMemoryNoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBURL = "sqlite://"
	r := New(cfg)

	ok, err := r.LockDatabase(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, r.Backlog())
	assert.True(t, r.UnlockDatabase())
}

func TestSubmit_RejectsRawLockTask(t *testing.T) {
	r := New(testConfig(t))
	done := NewFuture[error]()
	assert.False(t, r.Submit(Task{Kind: TaskLockDatabase, Done: done}))
	err, ok := done.Value()
	require.True(t, ok)
	assert.Error(t, err)
}
