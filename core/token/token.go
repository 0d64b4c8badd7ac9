// Package token provides a broadcast-once latch. Operations use one as the
// cooperative cancellation signal and another as the done confirmation.
package token

import "context"

// Token is settable any number of times but only fires once. Copies of the
// pointer observe the same state.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns an unset token.
func New() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel sets the token and wakes every waiter. Repeated calls are no-ops.
func (t *Token) Cancel() {
	t.cancel()
}

// IsCancelled reports whether the token has been set.
func (t *Token) IsCancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the token is set.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context cancelled together with the token, suitable for
// handing to code that only understands contexts.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Wait blocks until the token is set or ctx ends.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
