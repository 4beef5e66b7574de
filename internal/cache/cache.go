package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Row is a row handle queued for insertion. RowID returns zero until the row
// has been written.
type Row interface {
	RowID() int64
}

// Loader resolves content keys against storage. Keys absent from the returned
// map have no row.
type Loader func(ctx context.Context, keys []string) (map[string]int64, error)

// Cache is a content cache with a pending and a committed partition.
type Cache[R Row] struct {
	name      string
	pending   map[string]R
	committed *lru.Cache
	capacity  int
	loader    Loader
	active    bool
}

// New creates a cache holding at most capacity committed entries.
//
// Panics if capacity is not positive.
func New[R Row](name string, capacity int, loader Loader) *Cache[R] {
	committed, err := lru.New(capacity)
	if err != nil {
		panic(fmt.Sprintf("cache %s: %v", name, err))
	}
	return &Cache[R]{
		name:      name,
		pending:   make(map[string]R),
		committed: committed,
		capacity:  capacity,
		loader:    loader,
		active:    true,
	}
}

// Name returns the name the cache was created with.
func (c *Cache[R]) Name() string { return c.name }

// Active reports whether the storage column backing this cache is populated.
// Inactive caches still cache lookups; callers use the flag to decide whether
// legacy columns must also be written.
func (c *Cache[R]) Active() bool { return c.active }

// SetActive marks the cache active or inactive.
func (c *Cache[R]) SetActive(active bool) { c.active = active }

// GetPending returns the row added for key in the open batch.
func (c *Cache[R]) GetPending(key string) (R, bool) {
	r, ok := c.pending[key]
	return r, ok
}

// GetCommitted returns the durable identifier for key, marking it recently
// used.
func (c *Cache[R]) GetCommitted(key string) (int64, bool) {
	v, ok := c.committed.Get(key)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// Get returns the durable identifier for key, querying storage on a miss.
// A storage hit populates the committed partition. ok is false when no row
// holds the content and the caller must insert one.
func (c *Cache[R]) Get(ctx context.Context, key string) (id int64, ok bool, err error) {
	if id, ok := c.GetCommitted(key); ok {
		return id, true, nil
	}
	found, err := c.loader(ctx, []string{key})
	if err != nil {
		return 0, false, fmt.Errorf("%s lookup: %w", c.name, err)
	}
	id, ok = found[key]
	if ok {
		c.committed.Add(key, id)
	}
	return id, ok, nil
}

// Load resolves many keys at once and primes the committed partition with
// every hit. Keys already cached are not queried again. The returned map
// holds every key with a known identifier.
func (c *Cache[R]) Load(ctx context.Context, keys []string) (map[string]int64, error) {
	result := make(map[string]int64, len(keys))
	var missing []string
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if id, ok := c.GetCommitted(key); ok {
			result[key] = id
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) == 0 {
		return result, nil
	}
	found, err := c.loader(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("%s bulk lookup: %w", c.name, err)
	}
	for key, id := range found {
		c.committed.Add(key, id)
		result[key] = id
	}
	return result, nil
}

// AddPending registers a row added for key in the open batch. A committed
// entry for the same key is dropped so the key lives in one partition only.
func (c *Cache[R]) AddPending(key string, row R) {
	c.committed.Remove(key)
	c.pending[key] = row
}

// PendingLen returns the number of rows awaiting commit.
func (c *Cache[R]) PendingLen() int { return len(c.pending) }

// CommittedLen returns the number of committed entries.
func (c *Cache[R]) CommittedLen() int { return c.committed.Len() }

// Capacity returns the committed partition bound.
func (c *Cache[R]) Capacity() int { return c.capacity }

// PostCommit promotes every pending row to the committed partition and
// clears pending. It must be called once after each successful commit.
// Rows that came back without an identifier are dropped.
func (c *Cache[R]) PostCommit() {
	for key, row := range c.pending {
		if id := row.RowID(); id > 0 {
			c.committed.Add(key, id)
		}
	}
	clear(c.pending)
}

// Reset drops both partitions. Used when the open batch is discarded or the
// connection is replaced.
func (c *Cache[R]) Reset() {
	clear(c.pending)
	c.committed.Purge()
}

// Resize sets the committed bound. Shrinking evicts the least recently used
// committed entries; pending rows are never affected.
func (c *Cache[R]) Resize(capacity int) {
	if capacity <= 0 || capacity == c.capacity {
		return
	}
	c.committed.Resize(capacity)
	c.capacity = capacity
}

// AdjustCapacity grows the committed bound to at least capacity. It never
// shrinks the cache.
func (c *Cache[R]) AdjustCapacity(capacity int) {
	if capacity > c.capacity {
		c.Resize(capacity)
	}
}

// Evict removes keys from the committed partition.
func (c *Cache[R]) Evict(keys ...string) {
	for _, key := range keys {
		c.committed.Remove(key)
	}
}

// EvictIDs removes every committed entry whose identifier is in ids.
func (c *Cache[R]) EvictIDs(ids map[int64]struct{}) {
	if len(ids) == 0 {
		return
	}
	for _, k := range c.committed.Keys() {
		v, ok := c.committed.Peek(k)
		if !ok {
			continue
		}
		if _, purged := ids[v.(int64)]; purged {
			c.committed.Remove(k)
		}
	}
}
