package recorder

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recorder/internal/model"
)

func TestCheckBacklog_TripIsOneWay(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQueueBacklog = 3
	r := New(cfg)

	for i := 0; i < 3; i++ {
		require.True(t, r.RecordEvent(model.NewEvent("tick", nil)))
	}
	assert.False(t, r.checkBacklog())
	assert.True(t, r.Recording())

	require.True(t, r.RecordEvent(model.NewEvent("tick", nil)))
	assert.True(t, r.checkBacklog())
	assert.False(t, r.Recording())
	assert.False(t, r.RecordEvent(model.NewEvent("tick", nil)))

	backlog, ok := r.BacklogExceeded().Value()
	require.True(t, ok)
	assert.Equal(t, 4, backlog)

	// Draining does not turn ingestion back on.
	r.queue.DrainAll()
	assert.False(t, r.checkBacklog())
	assert.False(t, r.Recording())
	assert.False(t, r.RecordEvent(model.NewEvent("tick", nil)))

	// The signal fires once.
	for i := 0; i < 5; i++ {
		r.queue.Put(Task{Kind: TaskCommit})
	}
	assert.True(t, r.checkBacklog())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.backlogExceeded))
	backlog, _ = r.BacklogExceeded().Value()
	assert.Equal(t, 4, backlog)
}

func TestBacklogMonitor_Trips(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQueueBacklog = 2
	cfg.QueueCheckInterval = 5 * time.Millisecond
	r := New(cfg)
	for i := 0; i < 3; i++ {
		require.True(t, r.RecordEvent(model.NewEvent("tick", nil)))
	}

	r.startBacklogMonitor(testContext(t))

	_, err := r.BacklogExceeded().Wait(testContext(t))
	require.NoError(t, err)
	assert.False(t, r.Recording())
}
