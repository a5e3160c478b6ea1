package sequence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sequences in process memory.
// Used for tests and STORE_DRIVER=memory development runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]Record),
		now:     time.Now,
	}
}

// Ensure compile-time interface compliance.
var (
	_ Store  = (*MemoryStore)(nil)
	_ Setter = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Highest implements Store.
func (s *MemoryStore) Highest(ctx context.Context, prefix, week string, mode Mode) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  Record
		found bool
	)
	for k, rec := range s.records {
		if k.Prefix != prefix || k.Week != week || k.Mode != mode {
			continue
		}
		if !found || k.Slot > best.Key.Slot {
			best, found = rec, true
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return best, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, key Key, expected, next int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[key].LastNumber != expected {
		return ErrConflict
	}
	s.records[key] = Record{Key: key, LastNumber: next, UpdatedAt: s.now().UTC()}
	return nil
}

// Set implements Setter.
func (s *MemoryStore) Set(ctx context.Context, key Key, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = Record{Key: key, LastNumber: value, UpdatedAt: s.now().UTC()}
	return nil
}

// List implements Lister.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
