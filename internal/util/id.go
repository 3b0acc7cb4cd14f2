package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string used for queries, handles and sessions.
func NewID() string {
	return uuid.NewString()
}

// callIDAlphabet excludes ambiguous characters so ids stay readable in
// transcripts and log lines.
const callIDAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// NewCallID returns a short correlation id for a single tool invocation.
// Uniqueness is only required within one query, so 12 characters suffice.
func NewCallID() string {
	id, err := gonanoid.Generate(callIDAlphabet, 12)
	if err != nil {
		// gonanoid only fails when the platform RNG is broken; fall back to
		// the uuid source rather than propagating an error through every
		// invocation path.
		return uuid.NewString()[:12]
	}
	return id
}
