package idempotency

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	record  Record
	expires time.Time
}

// MemoryStore is the single-instance store. Expiry is lazy: entries are
// dropped when read past their deadline.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   func() time.Time
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Record{}, false, nil
	}
	if s.clock().After(e.expires) {
		delete(s.entries, key)
		return Record{}, false, nil
	}
	return e.record, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, record Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{record: record, expires: s.clock().Add(ttl)}
	return nil
}
