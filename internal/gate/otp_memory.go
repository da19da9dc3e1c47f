package gate

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/platform/sentinel"
)

// InMemoryOTPStore approximates the Redis TTL behavior with explicit expiry
// checks, for tests and single-node development.
type InMemoryOTPStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]otpEntry
}

type otpEntry struct {
	record    OTPRecord
	expiresAt time.Time
}

func NewInMemoryOTPStore() *InMemoryOTPStore {
	return &InMemoryOTPStore{
		now:     time.Now,
		records: make(map[string]otpEntry),
	}
}

// WithClock replaces the expiry clock, for tests.
func (s *InMemoryOTPStore) WithClock(now func() time.Time) *InMemoryOTPStore {
	s.now = now
	return s
}

func (s *InMemoryOTPStore) Save(_ context.Context, token string, record OTPRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[token] = otpEntry{record: record, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryOTPStore) Get(_ context.Context, token string) (*OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.records, token)
		return nil, sentinel.ErrExpired
	}
	cp := entry.record
	return &cp, nil
}

func (s *InMemoryOTPStore) IncrementAttempts(_ context.Context, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[token]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	entry.record.Attempts++
	s.records[token] = entry
	return entry.record.Attempts, nil
}

func (s *InMemoryOTPStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}
