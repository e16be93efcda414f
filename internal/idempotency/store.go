// Package idempotency stores replayed responses for requests carrying
// an Idempotency-Key. A replayed key returns the recorded response
// instead of re-dispatching the action.
package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the response captured for one idempotency key.
type Record struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store persists records for the replay window.
type Store interface {
	// Get returns the record for a key, reporting whether one exists.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Set records the response for a key with a time-to-live.
	Set(ctx context.Context, key string, record Record, ttl time.Duration) error
}
