package sequence

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("sequence record not found")

	// ErrConflict is returned when a compare-and-set lost against another writer.
	ErrConflict = errors.New("sequence record modified concurrently")
)

// Record is the persisted state of one sequence.
type Record struct {
	Key        Key       `json:"-"`
	LastNumber int       `json:"last_number"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists the last issued serial per key.
//
// Any error other than ErrNotFound and ErrConflict is treated by callers as
// the store being unavailable.
type Store interface {
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key Key) (Record, error)

	// Highest returns the record with the largest slot for (prefix, week, mode)
	// or ErrNotFound.
	Highest(ctx context.Context, prefix, week string, mode Mode) (Record, error)

	// Upsert stores next as the last issued serial of key, provided the stored
	// value still equals expected. A missing record counts as zero and is created.
	// Lost races return ErrConflict.
	Upsert(ctx context.Context, key Key, expected, next int) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate every record. The
// backup mirror seeds its snapshot from it at startup.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}

// Setter is implemented by stores that allow operators to override a sequence
// (data migration, manual recovery). It bypasses the compare-and-set.
type Setter interface {
	Set(ctx context.Context, key Key, value int) error
}
