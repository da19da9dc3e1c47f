package convenio

import (
	"context"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	byEmployee map[domain.EmployeeID]*Agreement
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byEmployee: make(map[domain.EmployeeID]*Agreement)}
}

func (s *InMemoryStore) Create(_ context.Context, agreement *Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmployee[agreement.EmployeeID]; exists {
		return sentinel.ErrConflict
	}
	cp := *agreement
	s.byEmployee[agreement.EmployeeID] = &cp
	return nil
}

func (s *InMemoryStore) GetByEmployee(_ context.Context, employeeID domain.EmployeeID) (*Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agreement, ok := s.byEmployee[employeeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *agreement
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, agreement *Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmployee[agreement.EmployeeID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *agreement
	s.byEmployee[agreement.EmployeeID] = &cp
	return nil
}
