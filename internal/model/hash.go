package model

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashShared returns the content hash stored next to a shared payload.
// Rows are indexed by this value; equal hashes are only candidates and the
// full payload must still be compared.
func HashShared(shared []byte) int64 {
	return int64(xxhash.Sum64(shared))
}

// SharedData returns the canonical form of a generic event's data, or nil
// when the event carries no data.
func SharedData(e *Event) ([]byte, error) {
	if len(e.Data) == 0 {
		return nil, nil
	}
	b, err := MarshalCanonical(e.Data)
	if err != nil {
		return nil, fmt.Errorf("serialize data of %s event: %w", e.Type, err)
	}
	return b, nil
}

// SharedAttrs returns the canonical form of a state's attributes with the
// excluded keys removed. A removed entity (nil state) serializes as "{}".
func SharedAttrs(s *State, exclude map[string]struct{}) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	attrs := s.Attributes
	if len(exclude) > 0 && len(attrs) > 0 {
		attrs = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			if _, skip := exclude[k]; !skip {
				attrs[k] = v
			}
		}
	}
	if attrs == nil {
		return []byte("{}"), nil
	}
	b, err := MarshalCanonical(attrs)
	if err != nil {
		return nil, fmt.Errorf("serialize attributes of %s: %w", s.EntityID, err)
	}
	return b, nil
}
