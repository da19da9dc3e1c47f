package evidence

import (
	"context"
	"sort"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[domain.NoticeID][]*Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[domain.NoticeID][]*Item)}
}

func (s *InMemoryStore) Create(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Principal {
		for _, existing := range s.items[item.NoticeID] {
			if existing.Principal {
				return sentinel.ErrConflict
			}
		}
	}
	cp := *item
	s.items[item.NoticeID] = append(s.items[item.NoticeID], &cp)
	return nil
}

func (s *InMemoryStore) ListByNotice(_ context.Context, noticeID domain.NoticeID) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*Item, 0, len(s.items[noticeID]))
	for _, item := range s.items[noticeID] {
		cp := *item
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}
