package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/recorder/internal/model"
)

// eventLine is one NDJSON input record.
//
//	{"event_type":"state_changed","entity_id":"light.kitchen",
//	 "new_state":{"state":"on","attributes":{"brightness":200}}}
type eventLine struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    string         `json:"origin"`
	TimeFired time.Time      `json:"time_fired"`
	Context   *contextLine   `json:"context"`

	EntityID string     `json:"entity_id"`
	OldState *stateLine `json:"old_state"`
	NewState *stateLine `json:"new_state"`
}

type stateLine struct {
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     *contextLine   `json:"context"`
}

type contextLine struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	ParentID string `json:"parent_id"`
}

// readEvents decodes NDJSON events from r and hands each to fn. It returns
// the number of events decoded.
func readEvents(r io.Reader, now func() time.Time, fn func(model.Event) error) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	n := 0
	for {
		var line eventLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("event %d: %w", n+1, err)
		}
		ev, err := line.toEvent(now())
		if err != nil {
			return n, fmt.Errorf("event %d: %w", n+1, err)
		}
		n++
		if err := fn(ev); err != nil {
			return n, err
		}
	}
}

func (l *eventLine) toEvent(now time.Time) (model.Event, error) {
	if l.EventType == "" {
		return model.Event{}, errors.New("event_type is required")
	}
	fired := l.TimeFired
	if fired.IsZero() {
		fired = now
	}
	ev := model.Event{
		Type:      l.EventType,
		Data:      l.Data,
		TimeFired: fired,
		Context:   l.Context.toContext(),
	}
	switch strings.ToUpper(l.Origin) {
	case "", "LOCAL":
		ev.Origin = model.OriginLocal
	case "REMOTE":
		ev.Origin = model.OriginRemote
	default:
		return model.Event{}, fmt.Errorf("unknown origin %q", l.Origin)
	}
	if !ev.IsStateChanged() {
		return ev, nil
	}

	if l.EntityID == "" {
		return model.Event{}, errors.New("state_changed events need entity_id")
	}
	ev.EntityID = l.EntityID
	ev.Data = nil
	ev.OldState = l.OldState.toState(l.EntityID, fired, ev.Context)
	ev.NewState = l.NewState.toState(l.EntityID, fired, ev.Context)
	return ev, nil
}

func (s *stateLine) toState(entityID string, fired time.Time, evCtx model.Context) *model.State {
	if s == nil {
		return nil
	}
	st := &model.State{
		EntityID:    entityID,
		State:       s.State,
		Attributes:  s.Attributes,
		LastChanged: s.LastChanged,
		LastUpdated: s.LastUpdated,
		Context:     evCtx,
	}
	if st.LastUpdated.IsZero() {
		st.LastUpdated = fired
	}
	if st.LastChanged.IsZero() {
		st.LastChanged = st.LastUpdated
	}
	if s.Context != nil {
		st.Context = s.Context.toContext()
	}
	return st
}

func (c *contextLine) toContext() model.Context {
	if c == nil || c.ID == "" {
		ctx := model.Context{ID: model.NewContextID()}
		if c != nil {
			ctx.UserID, ctx.ParentID = c.UserID, c.ParentID
		}
		return ctx
	}
	return model.Context{ID: c.ID, UserID: c.UserID, ParentID: c.ParentID}
}
