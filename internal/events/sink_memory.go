package events

import (
	"context"
	"sync"
)

// MemorySink keeps ingested events in memory. Used by tests and as the
// fallback when no external sink is configured.
type MemorySink struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]struct{})}
}

func (s *MemorySink) Ingest(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[event.ID]; dup {
		return nil
	}
	s.seen[event.ID] = struct{}{}
	s.events = append(s.events, event)
	return nil
}

// ListByKey returns ingested events for a natural key, in order.
func (s *MemorySink) ListByKey(key string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.Key == key {
			out = append(out, event)
		}
	}
	return out
}

// All returns every ingested event in order.
func (s *MemorySink) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}
