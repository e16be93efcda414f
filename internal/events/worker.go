package events

import (
	"context"
	"log/slog"
)

// Worker consumes events from the publisher inbox and persists them.
// Sink failures are logged and skipped: event egress must never wedge
// the core, and downstream ingestion is idempotent so a resubmitted
// action regenerates anything lost.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Ingest(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "event ingestion failed",
					"event", event.Name,
					"key", event.Key,
					"error", err,
				)
			}
		}
	}
}
