package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherAssignsIDAndTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPublisher(4, func() time.Time { return now })

	err := p.Emit(context.Background(), Event{Name: EventMint, Key: "acct-a"})
	require.NoError(t, err)

	event := <-p.Inbox()
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, now, event.Timestamp)
	assert.Equal(t, EventMint, event.Name)
}

func TestMemorySinkDedupesOnID(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	event := Event{ID: "evt-1", Name: EventMint, Key: "acct-a"}
	require.NoError(t, sink.Ingest(ctx, event))
	require.NoError(t, sink.Ingest(ctx, event))

	assert.Len(t, sink.ListByKey("acct-a"), 1)
}

func TestWorkerDrainsInbox(t *testing.T) {
	p := NewPublisher(4, nil)
	sink := NewMemorySink()
	w := NewWorker(sink, p.Inbox(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.NoError(t, p.Emit(ctx, Event{Name: EventCreateRound, Key: "round-1"}))
	require.NoError(t, p.Emit(ctx, Event{Name: EventOpenRound, Key: "round-1"}))

	assert.Eventually(t, func() bool {
		return len(sink.ListByKey("round-1")) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWorkerSurvivesSinkFailure(t *testing.T) {
	p := NewPublisher(4, nil)
	failing := &failingSink{fail: 1}
	w := NewWorker(failing, p.Inbox(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, p.Emit(ctx, Event{Name: EventMint, Key: "acct-a"}))
	require.NoError(t, p.Emit(ctx, Event{Name: EventMint, Key: "acct-b"}))

	assert.Eventually(t, func() bool {
		return failing.deliveredCount() == 1
	}, time.Second, 5*time.Millisecond)
}

type failingSink struct {
	mu        sync.Mutex
	fail      int
	delivered []Event
}

func (s *failingSink) Ingest(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return context.DeadlineExceeded
	}
	s.delivered = append(s.delivered, event)
	return nil
}

func (s *failingSink) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}
