package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{
		DBMaxRetries:      -1,
		LockOverflowRatio: 2,
		CacheCapacity:     -5,
	}.withDefaults()

	assert.Equal(t, DefaultConfig().DBURL, cfg.DBURL)
	assert.Equal(t, DefaultDBMaxRetries, cfg.DBMaxRetries)
	assert.Equal(t, DefaultLockOverflowRatio, cfg.LockOverflowRatio)
	assert.Equal(t, DefaultCacheCapacity, cfg.CacheCapacity)
	assert.Equal(t, time.Duration(0), cfg.CommitInterval, "zero commit interval means commit every event")
}

func TestConfig_KeepsValidValues(t *testing.T) {
	in := DefaultConfig()
	in.DBMaxRetries = 0
	in.KeepDays = 3
	in.MaxQueueBacklog = 100
	cfg := in.withDefaults()

	assert.Equal(t, 0, cfg.DBMaxRetries)
	assert.Equal(t, 3, cfg.KeepDays)
	assert.Equal(t, 90, cfg.lockOverflowBacklog())
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://user:xxxxx@db/recorder", RedactURL("postgres://user:secret@db/recorder"))
	assert.Equal(t, "sqlite:///recorder.db", RedactURL("sqlite:///recorder.db"))
}
