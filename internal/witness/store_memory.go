package witness

import (
	"context"
	"sort"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	byToken map[string]*Declaration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byToken: make(map[string]*Declaration)}
}

func (s *InMemoryStore) Create(_ context.Context, declaration *Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byToken[declaration.AccessToken]; exists {
		return sentinel.ErrConflict
	}
	cp := *declaration
	s.byToken[declaration.AccessToken] = &cp
	return nil
}

func (s *InMemoryStore) GetByToken(_ context.Context, token string) (*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	declaration, ok := s.byToken[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *declaration
	return &cp, nil
}

func (s *InMemoryStore) ListByNotice(_ context.Context, noticeID domain.NoticeID) ([]*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var declarations []*Declaration
	for _, declaration := range s.byToken {
		if declaration.NoticeID == noticeID {
			cp := *declaration
			declarations = append(declarations, &cp)
		}
	}
	sort.Slice(declarations, func(i, j int) bool {
		return declarations[i].CreatedAt.Before(declarations[j].CreatedAt)
	})
	return declarations, nil
}

func (s *InMemoryStore) Update(_ context.Context, declaration *Declaration, expected State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byToken[declaration.AccessToken]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.State != expected {
		return sentinel.ErrConflict
	}
	cp := *declaration
	s.byToken[declaration.AccessToken] = &cp
	return nil
}
