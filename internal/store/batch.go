package store

// Batch collects the rows added by the recorder's open transaction. Rows are
// written in insertion order, grouped so that every referenced row precedes
// the rows pointing at it.
type Batch struct {
	eventTypes []*EventTypeRow
	eventData  []*EventDataRow
	statesMeta []*StatesMetaRow
	attributes []*StateAttributesRow
	events     []*EventRow
	states     []*StateRow
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// AddEventType queues an event_types row.
func (b *Batch) AddEventType(r *EventTypeRow) { b.eventTypes = append(b.eventTypes, r) }

// AddEventData queues an event_data row.
func (b *Batch) AddEventData(r *EventDataRow) { b.eventData = append(b.eventData, r) }

// AddStatesMeta queues a states_meta row.
func (b *Batch) AddStatesMeta(r *StatesMetaRow) { b.statesMeta = append(b.statesMeta, r) }

// AddStateAttributes queues a state_attributes row.
func (b *Batch) AddStateAttributes(r *StateAttributesRow) {
	b.attributes = append(b.attributes, r)
}

// AddEvent queues an events row.
func (b *Batch) AddEvent(r *EventRow) { b.events = append(b.events, r) }

// AddState queues a states row.
func (b *Batch) AddState(r *StateRow) { b.states = append(b.states, r) }

// Len returns the number of queued rows.
func (b *Batch) Len() int {
	return len(b.eventTypes) + len(b.eventData) + len(b.statesMeta) +
		len(b.attributes) + len(b.events) + len(b.states)
}

// Dirty reports whether the batch holds unwritten rows.
func (b *Batch) Dirty() bool { return b.Len() > 0 }

// Events returns the queued event rows.
func (b *Batch) Events() []*EventRow { return b.events }

// States returns the queued state rows.
func (b *Batch) States() []*StateRow { return b.states }

// Reset empties the batch.
func (b *Batch) Reset() {
	clear(b.eventTypes)
	clear(b.eventData)
	clear(b.statesMeta)
	clear(b.attributes)
	clear(b.events)
	clear(b.states)
	b.eventTypes = b.eventTypes[:0]
	b.eventData = b.eventData[:0]
	b.statesMeta = b.statesMeta[:0]
	b.attributes = b.attributes[:0]
	b.events = b.events[:0]
	b.states = b.states[:0]
}

// clearIDs forgets identifiers assigned by a write that was rolled back.
func (b *Batch) clearIDs() {
	for _, r := range b.eventTypes {
		r.ID = 0
	}
	for _, r := range b.eventData {
		r.ID = 0
	}
	for _, r := range b.statesMeta {
		r.ID = 0
	}
	for _, r := range b.attributes {
		r.ID = 0
	}
	for _, r := range b.events {
		r.ID = 0
	}
	for _, r := range b.states {
		r.ID = 0
	}
}
