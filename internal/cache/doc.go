// Package cache holds the recorder's content caches.
//
// Every cache maps a content key (an event type name, an entity id, or the
// canonical JSON of a payload) to the identifier storage assigned to the row
// holding that content. Entries live in exactly one of two partitions:
//
//   - pending: rows added to the open batch that have no identifier yet
//   - committed: durable identifiers, bounded by an LRU
//
// After a successful commit PostCommit moves every pending row into the
// committed partition using the identifier the write assigned.
//
// Caches are owned by the recorder's engine goroutine and are not safe for
// concurrent mutation. The committed LRU itself is synchronized, so reads
// and Resize may race with one another.
package cache
