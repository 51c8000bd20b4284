package notify

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store for tests and dev mode.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]*Notification
	seq   uint64
	order map[string]uint64
}

// NewInMemory creates an empty notification store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]*Notification), order: make(map[string]uint64)}
}

func (s *InMemory) Create(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.items[cp.ID] = &cp
	s.seq++
	s.order[cp.ID] = s.seq
	return nil
}

func (s *InMemory) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Notification
	for _, n := range s.items {
		if n.UserID == userID {
			res = append(res, *n)
		}
	}
	sort.Slice(res, func(i, j int) bool { return s.order[res[i].ID] > s.order[res[j].ID] })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemory) MarkRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.IsRead = true
	return nil
}

func (s *InMemory) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}
