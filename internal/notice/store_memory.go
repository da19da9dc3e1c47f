package notice

import (
	"context"
	"sort"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	notices map[domain.NoticeID]*Notice
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notices: make(map[domain.NoticeID]*Notice)}
}

func (s *InMemoryStore) Create(_ context.Context, notice *Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notices[notice.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *notice
	s.notices[notice.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, noticeID domain.NoticeID) (*Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notice, ok := s.notices[noticeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *notice
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, notice *Notice, expected State, expectedAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.notices[notice.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.State != expected || current.ChallengeAttempts != expectedAttempts {
		return sentinel.ErrConflict
	}
	cp := *notice
	s.notices[notice.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListByEmployer(_ context.Context, employerID domain.EmployerID) ([]*Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var notices []*Notice
	for _, notice := range s.notices {
		if notice.EmployerID == employerID {
			cp := *notice
			notices = append(notices, &cp)
		}
	}
	sort.Slice(notices, func(i, j int) bool { return notices[i].CreatedAt.Before(notices[j].CreatedAt) })
	return notices, nil
}
