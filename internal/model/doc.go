// Package model defines the values the recorder persists and the content
// keys used to deduplicate them.
//
// Events and states arrive from the producing application as plain values.
// Before storage, attribute payloads are reduced to a canonical JSON form
// (sorted keys, NFC strings, no HTML escaping) so that equal payloads map to
// equal content keys, and a 64-bit xxhash of that form is used as a cheap
// index for candidate rows. A hash match is never trusted on its own: the
// store always confirms the full content key before reusing a row.
//
// Context ids are ULIDs in text form and are stored as 16-byte binary values.
package model
