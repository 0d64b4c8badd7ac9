// Package sleep implements the Sleeping operation: wait for a number of
// milliseconds unless cancelled first.
package sleep

import (
	"context"
	"fmt"
	"time"

	"conductor/core/operations"

	"github.com/juju/clock"
)

// Handler waits on an injected clock.
type Handler struct {
	clock clock.Clock
}

// New returns a sleep handler. A nil clock means the wall clock.
func New(c clock.Clock) *Handler {
	if c == nil {
		c = clock.WallClock
	}
	return &Handler{clock: c}
}

// Handle sleeps for the requested duration. Cancellation ends the wait
// early; neither outcome carries a result.
func (h *Handler) Handle(ctx context.Context, api *operations.API, kind operations.Kind) (any, error) {
	s, ok := kind.(operations.Sleep)
	if !ok {
		return nil, fmt.Errorf("unexpected kind %T for %s", kind, operations.SleepName)
	}
	api.Processing()
	select {
	case <-h.clock.After(time.Duration(s.Ms) * time.Millisecond):
	case <-api.CancellationToken().Done():
	case <-ctx.Done():
	}
	return nil, nil
}
