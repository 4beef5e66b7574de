package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskKind_CommitBefore(t *testing.T) {
	for _, k := range []TaskKind{TaskRecordEvent, TaskCommit, TaskKeepAlive, TaskSynchronize, TaskWaitForDrain, TaskAdjustCacheCapacity} {
		assert.False(t, k.CommitBefore(), k.String())
	}
	for _, k := range []TaskKind{TaskPurgeOlderThan, TaskLockDatabase, TaskMigrateEntityIDs, TaskImportStatistics, TaskCompileStatistics} {
		assert.True(t, k.CommitBefore(), k.String())
	}
}

func TestTaskKind_String(t *testing.T) {
	for k := TaskRecordEvent; k <= TaskWaitForDrain; k++ {
		assert.NotEqual(t, "unknown", k.String())
	}
	assert.Equal(t, "unknown", TaskKind(0).String())
}
