package blob

import (
	"context"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore holds objects in a map, for tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]Object)}
}

func (s *InMemoryStore) Put(_ context.Context, key string, obj Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := Object{Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType}
	s.objects[key] = stored
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := Object{Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType}
	return &out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
