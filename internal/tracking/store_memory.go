package tracking

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.Token]; exists {
		return sentinel.ErrConflict
	}
	cp := *session
	s.sessions[session.Token] = &cp
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *InMemorySessionStore) RecordProgress(_ context.Context, token string, scrollPct, dwellDelta float64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if scrollPct > session.MaxScrollPct {
		session.MaxScrollPct = scrollPct
	}
	if dwellDelta > 0 {
		session.DwellSeconds += dwellDelta
	}
	cp := *session
	return &cp, nil
}

func (s *InMemorySessionStore) MarkSatisfied(_ context.Context, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if session.SatisfiedAt != nil {
		return false, nil
	}
	session.SatisfiedAt = &at
	return true, nil
}
