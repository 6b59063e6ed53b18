package realtime

import (
	"time"

	"kanva/cmd/internal/board"
)

// NewSessionID returns a ULID used as websocket session id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewSessionID(now time.Time) (string, error) {
	return board.NewID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return board.NewID(now)
}
