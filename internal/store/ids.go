package store

import (
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// newMessageID returns a fresh ULID string.
func newMessageID() string {
	return ulid.Make().String()
}

// withID assigns an ID to m if it has none.
func withID(m models.Message) models.Message {
	if m.ID == "" {
		m.ID = newMessageID()
	}
	return m
}

// ValidMessageID reports whether id is a well-formed message identifier.
func ValidMessageID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// tail keeps the last n elements of s when n is positive.
func tail[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
