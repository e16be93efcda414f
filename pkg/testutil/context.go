package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context that is cancelled when the test ends, with a
// generous deadline so hung operations fail the test instead of the CI job.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
