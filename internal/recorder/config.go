package recorder

import (
	"net/url"
	"time"
)

// Defaults for Config.
const (
	DefaultDBMaxRetries           = 10
	DefaultDBRetryWait            = 3 * time.Second
	DefaultCommitInterval         = 5 * time.Second
	DefaultKeepDays               = 10
	DefaultMaxQueueBacklog        = 65000
	DefaultQueueCheckInterval     = 10 * time.Minute
	DefaultLockTimeout            = 30 * time.Second
	DefaultLockQueueCheckInterval = time.Second
	DefaultLockOverflowRatio      = 0.9
	DefaultKeepAliveInterval      = 30 * time.Second
	DefaultExpireAfterCommits     = 120
	DefaultCacheCapacity          = 2048
)

// Config configures a Recorder. Start from DefaultConfig; fields left at
// an invalid zero value are replaced by their defaults in New.
type Config struct {
	// DBURL selects the database. See store.ParseURL.
	DBURL string `yaml:"db_url"`
	// DBMaxRetries bounds connection attempts and commit retries.
	DBMaxRetries int `yaml:"db_max_retries"`
	// DBRetryWait is the fixed delay between retries.
	DBRetryWait time.Duration `yaml:"db_retry_wait"`
	// CommitInterval is how often the open batch is committed. Zero
	// commits after every event.
	CommitInterval time.Duration `yaml:"commit_interval"`
	// KeepDays is the history kept by the nightly purge.
	KeepDays int `yaml:"keep_days"`
	// AutoPurge enables the nightly purge.
	AutoPurge bool `yaml:"auto_purge"`
	// AutoRepack repacks after the purge on the second Sunday of a month.
	AutoRepack bool `yaml:"auto_repack"`
	// MaxQueueBacklog is the backlog at which ingestion is switched off.
	MaxQueueBacklog int `yaml:"max_queue_backlog"`
	// QueueCheckInterval is how often the backlog is checked.
	QueueCheckInterval time.Duration `yaml:"queue_check_interval"`
	// LockTimeout bounds how long LockDatabase waits for the engine.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// LockQueueCheckInterval is how often a held lock checks the backlog.
	LockQueueCheckInterval time.Duration `yaml:"lock_queue_check_interval"`
	// LockOverflowRatio is the share of MaxQueueBacklog at which a held
	// lock is released early.
	LockOverflowRatio float64 `yaml:"lock_overflow_ratio"`
	// KeepAliveInterval is the ping interval for server databases.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	// ExpireAfterCommits is the number of commits after which prepared
	// statements are expired.
	ExpireAfterCommits int `yaml:"expire_after_commits"`
	// CacheCapacity is the initial committed capacity of each cache.
	CacheCapacity int `yaml:"cache_capacity"`

	Filter FilterConfig `yaml:"filter"`
	// ExcludeAttributesByDomain lists state attributes never recorded,
	// per entity domain.
	ExcludeAttributesByDomain map[string][]string `yaml:"exclude_attributes_by_domain"`
}

// DefaultConfig returns a Config with every default applied and a SQLite
// database in the working directory.
func DefaultConfig() Config {
	return Config{
		DBURL:                  "sqlite:///recorder.db",
		DBMaxRetries:           DefaultDBMaxRetries,
		DBRetryWait:            DefaultDBRetryWait,
		CommitInterval:         DefaultCommitInterval,
		KeepDays:               DefaultKeepDays,
		AutoPurge:              true,
		AutoRepack:             true,
		MaxQueueBacklog:        DefaultMaxQueueBacklog,
		QueueCheckInterval:     DefaultQueueCheckInterval,
		LockTimeout:            DefaultLockTimeout,
		LockQueueCheckInterval: DefaultLockQueueCheckInterval,
		LockOverflowRatio:      DefaultLockOverflowRatio,
		KeepAliveInterval:      DefaultKeepAliveInterval,
		ExpireAfterCommits:     DefaultExpireAfterCommits,
		CacheCapacity:          DefaultCacheCapacity,
	}
}

// withDefaults replaces invalid values. CommitInterval zero is valid.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DBURL == "" {
		c.DBURL = d.DBURL
	}
	if c.DBMaxRetries < 0 {
		c.DBMaxRetries = d.DBMaxRetries
	}
	if c.DBRetryWait <= 0 {
		c.DBRetryWait = d.DBRetryWait
	}
	if c.CommitInterval < 0 {
		c.CommitInterval = d.CommitInterval
	}
	if c.KeepDays <= 0 {
		c.KeepDays = d.KeepDays
	}
	if c.MaxQueueBacklog <= 0 {
		c.MaxQueueBacklog = d.MaxQueueBacklog
	}
	if c.QueueCheckInterval <= 0 {
		c.QueueCheckInterval = d.QueueCheckInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.LockQueueCheckInterval <= 0 {
		c.LockQueueCheckInterval = d.LockQueueCheckInterval
	}
	if c.LockOverflowRatio <= 0 || c.LockOverflowRatio > 1 {
		c.LockOverflowRatio = d.LockOverflowRatio
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.ExpireAfterCommits <= 0 {
		c.ExpireAfterCommits = d.ExpireAfterCommits
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	return c
}

// lockOverflowBacklog is the backlog at which a held lock gives up.
func (c Config) lockOverflowBacklog() int {
	return int(float64(c.MaxQueueBacklog) * c.LockOverflowRatio)
}

// RedactURL hides the password in a database URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
