package gate

import (
	"context"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemorySessionStore struct {
	mu       sync.RWMutex
	byToken  map[string]*Session
	byNotice map[domain.NoticeID]string
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		byToken:  make(map[string]*Session),
		byNotice: make(map[domain.NoticeID]string),
	}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byToken[session.Token]; exists {
		return sentinel.ErrConflict
	}
	cp := *session
	s.byToken[session.Token] = &cp
	s.byNotice[session.NoticeID] = session.Token
	return nil
}

func (s *InMemorySessionStore) GetByToken(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byToken[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *InMemorySessionStore) GetByNotice(_ context.Context, noticeID domain.NoticeID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.byNotice[noticeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byToken[token]
	return &cp, nil
}

func (s *InMemorySessionStore) Update(_ context.Context, session *Session, expected State, expectedAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byToken[session.Token]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.State != expected || current.IdentifierAttempts != expectedAttempts {
		return sentinel.ErrConflict
	}
	cp := *session
	s.byToken[session.Token] = &cp
	return nil
}
