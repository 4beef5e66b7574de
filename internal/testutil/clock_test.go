package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 3, 8, 4, 0, 0, 0, time.UTC)

func TestClock_StartsAtStart(t *testing.T) {
	clock := NewClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now(), "reading does not advance")
}

func TestClock_Advance(t *testing.T) {
	clock := NewClock(start)

	assert.Equal(t, start.Add(12*time.Minute), clock.Advance(12*time.Minute))
	assert.Equal(t, start.Add(12*time.Minute), clock.Now())
}

func TestClock_Set(t *testing.T) {
	clock := NewClock(start)
	earlier := start.AddDate(0, 0, -30)

	clock.Set(earlier)
	assert.Equal(t, earlier, clock.Now())
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock(start)
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(goroutines*time.Second), clock.Now())
}

func TestSQLiteURL(t *testing.T) {
	a, b := SQLiteURL(t), SQLiteURL(t)
	assert.Regexp(t, `^sqlite:///.+/recorder\.db$`, a)
	assert.NotEqual(t, a, b)
}
