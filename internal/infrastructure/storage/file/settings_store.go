package file

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// SettingsStore keeps the settings document in a single file.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore creates a store writing to path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load returns the raw document. A missing file yields an error wrapping
// os.ErrNotExist.
func (s *SettingsStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return data, nil
}

// Save replaces the document.
func (s *SettingsStore) Save(ctx context.Context, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, doc)
}
