package recorder

import (
	"context"
	"fmt"

	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/store"
)

// recordEvent adds ev to the open batch, reusing stored content wherever the
// caches know it.
func (s *session) recordEvent(ctx context.Context, ev *model.Event, exclude map[string]map[string]struct{}) error {
	if ev.IsStateChanged() {
		return s.recordState(ctx, ev, exclude[model.Domain(ev.EntityID)])
	}
	return s.recordGenericEvent(ctx, ev)
}

func (s *session) recordGenericEvent(ctx context.Context, ev *model.Event) error {
	row := &store.EventRow{
		OriginIdx:          int(ev.Origin),
		TimeFiredTS:        model.Timestamp(ev.TimeFired),
		ContextIDBin:       model.ContextIDBytes(ev.Context.ID),
		ContextUserIDBin:   model.ContextIDBytes(ev.Context.UserID),
		ContextParentIDBin: model.ContextIDBytes(ev.Context.ParentID),
	}
	if !s.eventTypes.Active() {
		row.LegacyEventType = ev.Type
	}

	if err := s.resolveEventType(ctx, ev.Type, row); err != nil {
		return err
	}

	shared, err := model.SharedData(ev)
	if err != nil {
		return err
	}
	if shared != nil {
		if err := s.resolveEventData(ctx, string(shared), row); err != nil {
			return err
		}
	}

	s.batch.AddEvent(row)
	return nil
}

func (s *session) resolveEventType(ctx context.Context, eventType string, row *store.EventRow) error {
	if pending, ok := s.eventTypes.GetPending(eventType); ok {
		row.EventType = pending
		return nil
	}
	id, ok, err := s.eventTypes.Get(ctx, eventType)
	if err != nil {
		return err
	}
	if ok {
		row.EventTypeID = id
		return nil
	}
	et := &store.EventTypeRow{EventType: eventType}
	s.eventTypes.AddPending(eventType, et)
	s.batch.AddEventType(et)
	row.EventType = et
	return nil
}

func (s *session) resolveEventData(ctx context.Context, shared string, row *store.EventRow) error {
	if pending, ok := s.eventData.GetPending(shared); ok {
		row.Data = pending
		return nil
	}
	id, ok, err := s.eventData.Get(ctx, shared)
	if err != nil {
		return err
	}
	if ok {
		row.DataID = id
		return nil
	}
	data := &store.EventDataRow{Hash: model.HashShared([]byte(shared)), SharedData: shared}
	s.eventData.AddPending(shared, data)
	s.batch.AddEventData(data)
	row.Data = data
	return nil
}

func (s *session) recordState(ctx context.Context, ev *model.Event, exclude map[string]struct{}) error {
	entityID := ev.EntityID
	newState := ev.NewState
	removed := newState == nil

	row := &store.StateRow{
		OriginIdx:          int(ev.Origin),
		ContextIDBin:       model.ContextIDBytes(ev.Context.ID),
		ContextUserIDBin:   model.ContextIDBytes(ev.Context.UserID),
		ContextParentIDBin: model.ContextIDBytes(ev.Context.ParentID),
	}
	if removed {
		row.LastUpdatedTS = model.Timestamp(ev.TimeFired)
		row.LastChangedTS = row.LastUpdatedTS
	} else {
		row.State = newState.State
		row.LastUpdatedTS = model.Timestamp(newState.LastUpdated)
		row.LastChangedTS = model.Timestamp(newState.LastChanged)
	}

	known, err := s.resolveStatesMeta(ctx, entityID, row, !removed)
	if err != nil {
		return err
	}
	if removed && !known && s.statesMeta.Active() {
		// Removal of an entity that was never recorded.
		return nil
	}
	if !s.statesMeta.Active() {
		row.LegacyEntityID = entityID
	}

	if !removed {
		shared, err := model.SharedAttrs(newState, exclude)
		if err != nil {
			return err
		}
		if err := s.resolveAttributes(ctx, string(shared), row); err != nil {
			return err
		}
	}

	if prev, ok := s.states.PopPending(entityID); ok {
		row.OldState = prev
	} else if prevID, ok := s.states.PopCommitted(entityID); ok {
		row.OldStateID = prevID
	}
	if !removed {
		s.states.AddPending(entityID, row)
	}

	s.batch.AddState(row)
	return nil
}

// resolveStatesMeta links row to its states_meta entry. A missing entry is
// created only when create is true. It reports whether the entity has one.
func (s *session) resolveStatesMeta(ctx context.Context, entityID string, row *store.StateRow, create bool) (bool, error) {
	if pending, ok := s.statesMeta.GetPending(entityID); ok {
		row.Meta = pending
		return true, nil
	}
	id, ok, err := s.statesMeta.Get(ctx, entityID)
	if err != nil {
		return false, err
	}
	if ok {
		row.MetadataID = id
		return true, nil
	}
	if !create {
		return false, nil
	}
	meta := &store.StatesMetaRow{EntityID: entityID}
	s.statesMeta.AddPending(entityID, meta)
	s.batch.AddStatesMeta(meta)
	row.Meta = meta
	return true, nil
}

func (s *session) resolveAttributes(ctx context.Context, shared string, row *store.StateRow) error {
	if pending, ok := s.attributes.GetPending(shared); ok {
		row.Attributes = pending
		return nil
	}
	id, ok, err := s.attributes.Get(ctx, shared)
	if err != nil {
		return err
	}
	if ok {
		row.AttributesID = id
		return nil
	}
	attrs := &store.StateAttributesRow{Hash: model.HashShared([]byte(shared)), SharedAttrs: shared}
	s.attributes.AddPending(shared, attrs)
	s.batch.AddStateAttributes(attrs)
	row.Attributes = attrs
	return nil
}

// preload primes the caches for a batch of queued events with one bulk
// query per cache.
func (s *session) preload(ctx context.Context, events []*model.Event, exclude map[string]map[string]struct{}) error {
	var (
		eventTypes []string
		eventData  []string
		entityIDs  []string
		attributes []string
	)
	for _, ev := range events {
		if ev.IsStateChanged() {
			entityIDs = append(entityIDs, ev.EntityID)
			if ev.NewState != nil {
				shared, err := model.SharedAttrs(ev.NewState, exclude[model.Domain(ev.EntityID)])
				if err == nil {
					attributes = append(attributes, string(shared))
				}
			}
			continue
		}
		eventTypes = append(eventTypes, ev.Type)
		if shared, err := model.SharedData(ev); err == nil && shared != nil {
			eventData = append(eventData, string(shared))
		}
	}

	if _, err := s.eventTypes.Load(ctx, eventTypes); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	if _, err := s.eventData.Load(ctx, eventData); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	if _, err := s.statesMeta.Load(ctx, entityIDs); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	if _, err := s.attributes.Load(ctx, attributes); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	return nil
}
