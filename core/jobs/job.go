// Package jobs is the unbound side of the core: single-shot commands that
// run outside any session and answer their caller directly.
package jobs

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// Command is a job submitted through API.Run.
type Command interface {
	// Type returns a string identifier for the command.
	Type() string

	// Execute runs the command. ctx is cancelled by CancelJob and Shutdown.
	Execute(ctx context.Context, clk clock.Clock) (any, error)
}

// Outcome is the answer to a command: a result, or the fact that it was
// cancelled before producing one.
type Outcome struct {
	Result    any  `json:"result,omitempty"`
	Cancelled bool `json:"cancelled"`
}

// Finished wraps a result.
func Finished(v any) Outcome {
	return Outcome{Result: v}
}

// CancelledOutcome reports a cancelled command.
func CancelledOutcome() Outcome {
	return Outcome{Cancelled: true}
}

// CancelTest waits Delay and then returns A+B. It is used to exercise
// cancellation end to end.
type CancelTest struct {
	A, B  int64
	Delay time.Duration
}

func (CancelTest) Type() string { return "cancel_test" }

func (c CancelTest) Execute(ctx context.Context, clk clock.Clock) (any, error) {
	if c.Delay > 0 {
		select {
		case <-clk.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.A + c.B, nil
}
