package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewContextID returns a fresh, time-ordered context id.
func NewContextID() string {
	return ulid.Make().String()
}

// ContextIDBytes converts a text context id into its 16-byte stored form.
//
// ULIDs are the native format; UUIDs (hyphenated or bare hex) written by
// older producers are accepted too. Anything else returns nil.
func ContextIDBytes(id string) []byte {
	if id == "" {
		return nil
	}
	if len(id) == ulid.EncodedSize {
		if u, err := ulid.ParseStrict(id); err == nil {
			return u[:]
		}
	}
	if u, err := uuid.Parse(id); err == nil {
		return u[:]
	}
	return nil
}

// ContextIDBytesAt is ContextIDBytes for rows that must end up with an id.
// Unparseable ids are replaced by a fresh ULID carrying the row's timestamp.
func ContextIDBytesAt(id string, at time.Time) []byte {
	if b := ContextIDBytes(id); b != nil {
		return b
	}
	u := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())
	return u[:]
}

// ContextIDFromBytes renders a stored binary context id as a ULID string.
func ContextIDFromBytes(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	var u ulid.ULID
	copy(u[:], b)
	return u.String()
}
