package store

// Row types mirror one table each. ID is zero until the row has been
// written; the batch writer fills it in. Foreign keys may be given either as
// a known ID or as a pointer to a row written earlier in the same batch.

// EventTypeRow is an event_types row.
type EventTypeRow struct {
	ID        int64
	EventType string
}

// RowID returns the assigned identifier.
func (r *EventTypeRow) RowID() int64 { return r.ID }

// EventDataRow is an event_data row.
type EventDataRow struct {
	ID         int64
	Hash       int64
	SharedData string
}

// RowID returns the assigned identifier.
func (r *EventDataRow) RowID() int64 { return r.ID }

// StatesMetaRow is a states_meta row.
type StatesMetaRow struct {
	ID       int64
	EntityID string
}

// RowID returns the assigned identifier.
func (r *StatesMetaRow) RowID() int64 { return r.ID }

// StateAttributesRow is a state_attributes row.
type StateAttributesRow struct {
	ID          int64
	Hash        int64
	SharedAttrs string
}

// RowID returns the assigned identifier.
func (r *StateAttributesRow) RowID() int64 { return r.ID }

// EventRow is an events row.
type EventRow struct {
	ID int64

	// LegacyEventType is written only while event type ids are being
	// migrated.
	LegacyEventType string
	EventTypeID     int64
	EventType       *EventTypeRow

	DataID int64
	Data   *EventDataRow

	OriginIdx          int
	TimeFiredTS        float64
	ContextIDBin       []byte
	ContextUserIDBin   []byte
	ContextParentIDBin []byte
}

// RowID returns the assigned identifier.
func (r *EventRow) RowID() int64 { return r.ID }

// StateRow is a states row.
type StateRow struct {
	ID int64

	// LegacyEntityID is written only while entity ids are being migrated.
	LegacyEntityID string
	MetadataID     int64
	Meta           *StatesMetaRow

	State string

	AttributesID int64
	Attributes   *StateAttributesRow

	OldStateID int64
	OldState   *StateRow

	LastUpdatedTS      float64
	LastChangedTS      float64
	OriginIdx          int
	ContextIDBin       []byte
	ContextUserIDBin   []byte
	ContextParentIDBin []byte
}

// RowID returns the assigned identifier.
func (r *StateRow) RowID() int64 { return r.ID }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
