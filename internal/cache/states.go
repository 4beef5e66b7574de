package cache

// StatesTracker remembers the last state row written for each entity so a
// new row can link to its predecessor without a query.
type StatesTracker[R Row] struct {
	pending   map[string]R
	committed map[string]int64
}

// NewStatesTracker creates an empty tracker.
func NewStatesTracker[R Row]() *StatesTracker[R] {
	return &StatesTracker[R]{
		pending:   make(map[string]R),
		committed: make(map[string]int64),
	}
}

// PopPending removes and returns the row queued for entityID in the open
// batch.
func (t *StatesTracker[R]) PopPending(entityID string) (R, bool) {
	r, ok := t.pending[entityID]
	if ok {
		delete(t.pending, entityID)
	}
	return r, ok
}

// PopCommitted removes and returns the last durable state id for entityID.
func (t *StatesTracker[R]) PopCommitted(entityID string) (int64, bool) {
	id, ok := t.committed[entityID]
	if ok {
		delete(t.committed, entityID)
	}
	return id, ok
}

// AddPending records row as the newest state of entityID. It supersedes any
// committed entry.
func (t *StatesTracker[R]) AddPending(entityID string, row R) {
	delete(t.committed, entityID)
	t.pending[entityID] = row
}

// PostCommit promotes the pending rows once they have identifiers.
func (t *StatesTracker[R]) PostCommit() {
	for entityID, row := range t.pending {
		if id := row.RowID(); id > 0 {
			t.committed[entityID] = id
		}
	}
	clear(t.pending)
}

// Reset forgets everything.
func (t *StatesTracker[R]) Reset() {
	clear(t.pending)
	clear(t.committed)
}

// EvictStateIDs drops committed entries pointing at purged rows.
func (t *StatesTracker[R]) EvictStateIDs(ids map[int64]struct{}) {
	for entityID, id := range t.committed {
		if _, purged := ids[id]; purged {
			delete(t.committed, entityID)
		}
	}
}

// EvictEntities drops everything known about the given entities.
func (t *StatesTracker[R]) EvictEntities(entityIDs ...string) {
	for _, e := range entityIDs {
		delete(t.pending, e)
		delete(t.committed, e)
	}
}

// Len returns the number of entities tracked.
func (t *StatesTracker[R]) Len() int {
	return len(t.pending) + len(t.committed)
}
