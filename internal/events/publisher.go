package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink ingests events. Implementations must be idempotent on event id
// so a retried hand-off cannot duplicate records downstream.
type Sink interface {
	Ingest(ctx context.Context, event Event) error
}

// Publisher assigns ids and timestamps and hands events to a buffered
// inbox drained by the worker, so dispatch latency never depends on
// sink latency.
type Publisher struct {
	inbox chan Event
	clock func() time.Time
}

func NewPublisher(buffer int, clock func() time.Time) *Publisher {
	if clock == nil {
		clock = time.Now
	}
	return &Publisher{
		inbox: make(chan Event, buffer),
		clock: clock,
	}
}

// Emit queues an event for delivery. It blocks only when the inbox is
// full, which backpressures dispatch instead of dropping records.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.inbox <- event:
		return nil
	}
}

// Inbox exposes the receive side for the worker.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}
