package utils

import "github.com/google/uuid"

// NewID returns a random identifier suitable for sessions, groups and messages.
func NewID() string {
	return uuid.NewString()
}

// NewShortID returns the first 12 hex characters of a fresh uuid.
// Used where ids end up in logs and a short form is easier to read.
func NewShortID() string {
	id := uuid.New()
	return id.String()[:8] + id.String()[9:13]
}
