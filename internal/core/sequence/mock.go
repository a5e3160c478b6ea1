package sequence

import (
	"context"
)

// MockStore is a test implementation of Store.
// Unset funcs fall through to an in-memory store, so tests only override
// the calls they care about (slow upserts, injected failures).
type MockStore struct {
	GetFunc     func(ctx context.Context, key Key) (Record, error)
	HighestFunc func(ctx context.Context, prefix, week string, mode Mode) (Record, error)
	UpsertFunc  func(ctx context.Context, key Key, expected, next int) error
	PingFunc    func(ctx context.Context) error

	Memory *MemoryStore
}

// NewMockStore creates a MockStore backed by an empty MemoryStore.
func NewMockStore() *MockStore {
	return &MockStore{Memory: NewMemoryStore()}
}

// Get implements Store.
func (m *MockStore) Get(ctx context.Context, key Key) (Record, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return m.Memory.Get(ctx, key)
}

// Highest implements Store.
func (m *MockStore) Highest(ctx context.Context, prefix, week string, mode Mode) (Record, error) {
	if m.HighestFunc != nil {
		return m.HighestFunc(ctx, prefix, week, mode)
	}
	return m.Memory.Highest(ctx, prefix, week, mode)
}

// Upsert implements Store.
func (m *MockStore) Upsert(ctx context.Context, key Key, expected, next int) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, key, expected, next)
	}
	return m.Memory.Upsert(ctx, key, expected, next)
}

// Ping implements Store.
func (m *MockStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Ensure compile-time interface compliance.
var _ Store = (*MockStore)(nil)
