// Package uuidx generates the UUIDv7 identifiers used for message envelopes.
// Version 7 keeps identifiers time-ordered, which makes event streams sort
// naturally.
package uuidx

import "github.com/google/uuid"

// New returns a fresh UUIDv7. It panics if generation fails, which only
// happens when the system's entropy source is broken.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a fresh UUIDv7 in its canonical string form.
func NewString() string {
	return New().String()
}
