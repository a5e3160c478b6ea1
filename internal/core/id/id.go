// Package id generates identifiers for requests and traces.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a time-ordered UUIDv7 string, so request IDs in logs sort by
// arrival.
func New() string {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v.String()
}

// NewSpanID returns a 16 hex character span identifier.
func NewSpanID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Valid reports whether s is a UUID. Caller-supplied request IDs that are
// not are replaced.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
