package events

import (
	"context"
	"errors"
)

// MultiSink fans one event out to several sinks. Every sink sees every
// event; errors are joined so the worker log names all failures.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Ingest(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Ingest(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
