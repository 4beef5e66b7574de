package model

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_EntityIDs(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		ids   []string
		known bool
	}{
		{"no entity", Event{Type: "x", Data: map[string]any{"a": 1}}, nil, true},
		{"string", Event{Type: "x", Data: map[string]any{"entity_id": "light.a"}}, []string{"light.a"}, true},
		{"list", Event{Type: "x", Data: map[string]any{"entity_id": []any{"light.a", "switch.b"}}}, []string{"light.a", "switch.b"}, true},
		{"bad list", Event{Type: "x", Data: map[string]any{"entity_id": []any{"light.a", 3}}}, nil, false},
		{"other type", Event{Type: "x", Data: map[string]any{"entity_id": 42}}, nil, false},
		{"state changed", Event{Type: EventStateChanged, EntityID: "sensor.t"}, []string{"sensor.t"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, known := tt.event.EntityIDs()
			assert.Equal(t, tt.known, known)
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "light", Domain("light.kitchen"))
	assert.Equal(t, "weird", Domain("weird"))
}

func TestTimestampRoundTrip(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)
	assert.True(t, when.Equal(FromTimestamp(Timestamp(when))))
}

func TestNewStateChangedEvent_UsesStateContext(t *testing.T) {
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ns := &State{EntityID: "light.a", State: "on", LastUpdated: updated, Context: Context{ID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"}}

	e := NewStateChangedEvent("light.a", nil, ns)
	assert.True(t, e.IsStateChanged())
	assert.Equal(t, updated, e.TimeFired)
	assert.Equal(t, ns.Context, e.Context)
}

func TestContextIDBytes(t *testing.T) {
	id := NewContextID()
	b := ContextIDBytes(id)
	require.Len(t, b, 16)
	assert.Equal(t, id, ContextIDFromBytes(b))

	u := ContextIDBytes("0b6bc3c9-8a0f-4a5e-9a52-7cbf1c5d8e21")
	assert.Len(t, u, 16)

	assert.Nil(t, ContextIDBytes("not-an-id"))
	assert.Nil(t, ContextIDBytes(""))
}

func TestContextIDBytesAt_FallsBackToTimestampedULID(t *testing.T) {
	at := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	b := ContextIDBytesAt("garbage", at)
	require.Len(t, b, 16)

	var u ulid.ULID
	copy(u[:], b)
	assert.Equal(t, uint64(at.UnixMilli()), u.Time())
}
