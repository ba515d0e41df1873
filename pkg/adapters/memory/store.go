package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/scenesync/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]domain.EntitySnapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.EntitySnapshot),
	}
}

// Save persists a deep copy of snap.
func (s *Store) Save(ctx context.Context, docID string, snap *domain.EntitySnapshot) error {
	copied := cloneSnapshot(*snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[docID] = copied
	return nil
}

// Load returns a copy so callers cannot mutate the stored snapshot.
func (s *Store) Load(ctx context.Context, docID string) (*domain.EntitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[docID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	ret := cloneSnapshot(snap)
	return &ret, nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, docID)
	return nil
}

// List returns stored document ids in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// cloneSnapshot copies the maps and children. Field values are schema
// values, which are immutable once stored.
func cloneSnapshot(snap domain.EntitySnapshot) domain.EntitySnapshot {
	out := snap
	if snap.Fields != nil {
		out.Fields = make(map[string]any, len(snap.Fields))
		for k, v := range snap.Fields {
			out.Fields[k] = v
		}
	}
	if snap.Children != nil {
		out.Children = make([]domain.EntitySnapshot, len(snap.Children))
		for i, c := range snap.Children {
			out.Children[i] = cloneSnapshot(c)
		}
	}
	return out
}
