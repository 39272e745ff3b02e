package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryPointerStore keeps latest-state pointers in process for local/dev use.
type InMemoryPointerStore struct {
	mu       sync.RWMutex
	pointers map[string]StatePointer
}

func NewInMemoryPointerStore() *InMemoryPointerStore {
	return &InMemoryPointerStore{pointers: make(map[string]StatePointer)}
}

func (s *InMemoryPointerStore) SetLatest(_ context.Context, p StatePointer) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pointers[p.UserID]; ok && cur.Timestamp > p.Timestamp {
		return nil
	}
	s.pointers[p.UserID] = p
	return nil
}

func (s *InMemoryPointerStore) Latest(_ context.Context, userID string) (StatePointer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pointers[userID]
	return p, ok, nil
}

func (s *InMemoryPointerStore) Close() error { return nil }
