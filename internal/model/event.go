package model

import (
	"math"
	"strings"
	"time"
)

// EventStateChanged is the event type carrying entity state transitions.
const EventStateChanged = "state_changed"

// EventOrigin records where an event was produced.
type EventOrigin int

const (
	// OriginLocal marks events fired inside this process.
	OriginLocal EventOrigin = iota
	// OriginRemote marks events relayed from another instance.
	OriginRemote
)

// Context links an event or state to the action that caused it.
type Context struct {
	ID       string
	UserID   string
	ParentID string
}

// State is one snapshot of an entity.
type State struct {
	EntityID    string
	State       string
	Attributes  map[string]any
	LastChanged time.Time
	LastUpdated time.Time
	Context     Context
}

// Event is a single timestamped occurrence handed to the recorder.
//
// For EventStateChanged events EntityID, OldState and NewState are set and
// Data is ignored. A nil NewState means the entity was removed.
type Event struct {
	Type      string
	Data      map[string]any
	Origin    EventOrigin
	TimeFired time.Time
	Context   Context

	EntityID string
	OldState *State
	NewState *State
}

// NewEvent builds a generic event fired now with a fresh context id.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		TimeFired: time.Now(),
		Context:   Context{ID: NewContextID()},
	}
}

// NewStateChangedEvent builds a state_changed event for entityID.
func NewStateChangedEvent(entityID string, oldState, newState *State) Event {
	fired := time.Now()
	ctx := Context{ID: NewContextID()}
	if newState != nil {
		if !newState.LastUpdated.IsZero() {
			fired = newState.LastUpdated
		}
		if newState.Context.ID != "" {
			ctx = newState.Context
		}
	}
	return Event{
		Type:      EventStateChanged,
		TimeFired: fired,
		Context:   ctx,
		EntityID:  entityID,
		OldState:  oldState,
		NewState:  newState,
	}
}

// IsStateChanged reports whether the event carries a state transition.
func (e *Event) IsStateChanged() bool {
	return e.Type == EventStateChanged
}

// EntityIDs returns the entity ids the event refers to, if any.
//
// Generic events may carry "entity_id" in Data as a string or a list of
// strings. The second result is false when Data holds an entity_id of some
// other type.
func (e *Event) EntityIDs() ([]string, bool) {
	if e.IsStateChanged() {
		return []string{e.EntityID}, true
	}
	raw, ok := e.Data["entity_id"]
	if !ok || raw == nil {
		return nil, true
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, true
	case []string:
		return v, true
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			ids = append(ids, s)
		}
		return ids, true
	default:
		return nil, false
	}
}

// Domain returns the part of an entity id before the first dot.
func Domain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[:i]
	}
	return entityID
}

// Timestamp converts t into fractional unix seconds, the column format used
// for every *_ts column.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromTimestamp is the inverse of Timestamp.
func FromTimestamp(ts float64) time.Time {
	return time.UnixMicro(int64(math.Round(ts * 1e6))).UTC()
}
