package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"barcodeseq/internal/core/sequence"
)

// Compile-time interface checks.
var (
	_ sequence.Store  = (*SequenceStore)(nil)
	_ sequence.Setter = (*SequenceStore)(nil)
	_ sequence.Lister = (*SequenceStore)(nil)
)

// document is the on-disk layout.
type document struct {
	Simple   map[string]entry `json:"simple"`
	Compound []compoundEntry  `json:"compound"`
}

type entry struct {
	LastNumber int       `json:"last_number"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type compoundEntry struct {
	Prefix string `json:"prefix"`
	Week   string `json:"week"`
	Mode   string `json:"mode"`
	Slot   int    `json:"slot"`
	entry
}

// SequenceStore keeps every sequence in one JSON document. Each write
// rewrites the whole file, which suits the handful of scopes a site uses.
type SequenceStore struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	records map[sequence.Key]sequence.Record
}

// OpenSequenceStore loads path, or starts empty when it does not exist.
func OpenSequenceStore(path string) (*SequenceStore, error) {
	s := &SequenceStore{
		path:    path,
		now:     time.Now,
		records: make(map[sequence.Key]sequence.Record),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for prefix, e := range doc.Simple {
		key := sequence.Key{Prefix: prefix}
		s.records[key] = sequence.Record{Key: key, LastNumber: e.LastNumber, UpdatedAt: e.UpdatedAt}
	}
	for _, c := range doc.Compound {
		key := sequence.CompoundKey(c.Prefix, c.Week, sequence.Mode(c.Mode), c.Slot)
		s.records[key] = sequence.Record{Key: key, LastNumber: c.LastNumber, UpdatedAt: c.UpdatedAt}
	}
	return s, nil
}

// Get implements sequence.Store.
func (s *SequenceStore) Get(ctx context.Context, key sequence.Key) (sequence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return sequence.Record{}, sequence.ErrNotFound
	}
	return rec, nil
}

// Highest implements sequence.Store.
func (s *SequenceStore) Highest(ctx context.Context, prefix, week string, mode sequence.Mode) (sequence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	var best sequence.Record
	for k, rec := range s.records {
		if k.Prefix == prefix && k.Week == week && k.Mode == mode && (!found || k.Slot > best.Key.Slot) {
			best, found = rec, true
		}
	}
	if !found {
		return sequence.Record{}, sequence.ErrNotFound
	}
	return best, nil
}

// Upsert implements sequence.Store. The in-memory state only changes once
// the file was replaced.
func (s *SequenceStore) Upsert(ctx context.Context, key sequence.Key, expected, next int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.records[key].LastNumber; current != expected {
		return fmt.Errorf("sequence %s at %d, expected %d: %w", key, current, expected, sequence.ErrConflict)
	}
	return s.putLocked(key, next)
}

// List implements sequence.Lister.
func (s *SequenceStore) List(ctx context.Context) ([]sequence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]sequence.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

// Set implements sequence.Setter.
func (s *SequenceStore) Set(ctx context.Context, key sequence.Key, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value)
}

func (s *SequenceStore) putLocked(key sequence.Key, value int) error {
	rec := sequence.Record{Key: key, LastNumber: value, UpdatedAt: s.now().UTC()}
	prev, existed := s.records[key]
	s.records[key] = rec

	if err := s.flushLocked(); err != nil {
		if existed {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

func (s *SequenceStore) flushLocked() error {
	doc := document{Simple: make(map[string]entry)}
	for k, rec := range s.records {
		e := entry{LastNumber: rec.LastNumber, UpdatedAt: rec.UpdatedAt}
		if !k.Compound() {
			doc.Simple[k.Prefix] = e
			continue
		}
		doc.Compound = append(doc.Compound, compoundEntry{
			Prefix: k.Prefix, Week: k.Week, Mode: string(k.Mode), Slot: k.Slot, entry: e,
		})
	}
	sort.Slice(doc.Compound, func(i, j int) bool {
		a, b := doc.Compound[i], doc.Compound[j]
		if a.Prefix != b.Prefix {
			return a.Prefix < b.Prefix
		}
		if a.Week != b.Week {
			return a.Week < b.Week
		}
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		return a.Slot < b.Slot
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sequences: %w", err)
	}
	return writeAtomic(s.path, data)
}

// Ping implements sequence.Store.
func (s *SequenceStore) Ping(ctx context.Context) error {
	return nil
}
