package descargo

import (
	"context"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	byNotice map[domain.NoticeID]*Descargo
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byNotice: make(map[domain.NoticeID]*Descargo)}
}

func (s *InMemoryStore) Create(_ context.Context, d *Descargo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byNotice[d.NoticeID]; exists {
		return sentinel.ErrConflict
	}
	cp := *d
	s.byNotice[d.NoticeID] = &cp
	return nil
}

func (s *InMemoryStore) GetByNotice(_ context.Context, noticeID domain.NoticeID) (*Descargo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byNotice[noticeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, d *Descargo, expected State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byNotice[d.NoticeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.State != expected {
		return sentinel.ErrConflict
	}
	cp := *d
	s.byNotice[d.NoticeID] = &cp
	return nil
}
