package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	id "custodia/pkg/domain"
)

// InMemoryStore keeps chain-of-custody rows in process memory. Used by unit
// tests and by deployments without Postgres configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.NoticeID][]*Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.NoticeID][]*Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.RowHash == "" {
		stored.RowHash = stored.ComputeRowHash()
	}
	s.events[event.NoticeID] = append(s.events[event.NoticeID], &stored)

	event.ID = stored.ID
	event.RowHash = stored.RowHash
	return nil
}

func (s *InMemoryStore) ListByNotice(_ context.Context, noticeID id.NoticeID) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.events[noticeID]
	out := make([]*Event, len(rows))
	for i, e := range rows {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}

// FindByDigest scans all rows for a matching content hash. Linear scan is
// fine for the in-memory deployment profile.
func (s *InMemoryStore) FindByDigest(_ context.Context, digest string) ([]DigestMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []DigestMatch
	for _, rows := range s.events {
		for _, e := range rows {
			if e.ContentHash != "" && e.ContentHash == digest {
				matches = append(matches, DigestMatch{
					Kind:      string(e.Kind),
					ID:        e.NoticeID.String(),
					CreatedAt: e.OccurredAt.UTC().Format(time.RFC3339),
				})
			}
		}
	}
	return matches, nil
}
