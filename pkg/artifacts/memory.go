package artifacts

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key Key, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.objects[key.ObjectPath()]; ok {
		if sameContent(existing, data) {
			return nil
		}
		return ErrConflict
	}
	s.objects[key.ObjectPath()] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key Key, dst any) error {
	s.mu.RLock()
	data, ok := s.objects[key.ObjectPath()]
	s.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	return decode(data, dst)
}

func (s *MemoryStore) Exists(ctx context.Context, key Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key.ObjectPath()]
	return ok, nil
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
