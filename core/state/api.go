package state

import (
	"context"
	"fmt"

	"conductor/core/errors"
	"conductor/core/token"

	"github.com/google/uuid"
)

// API is the client handle of the state actor. It is cheap to copy and safe
// for concurrent use.
type API struct {
	tx      chan<- command
	done    <-chan struct{}
	closing *token.Token
}

// IsClosing reports whether the session is being closed. It reads the
// session-scoped signal directly and does not wait on the loop.
func (a *API) IsClosing() bool {
	return a.closing.IsCancelled()
}

// Closing returns the session-scoped signal set on close or shutdown.
func (a *API) Closing() *token.Token {
	return a.closing
}

// CloseSession marks the session closed and waits for the acknowledgment.
func (a *API) CloseSession(ctx context.Context) error {
	ack := make(chan struct{}, 1)
	return a.request(ctx, closeSession{ack: ack}, ack)
}

// SetDebugMode sets the debug flag and waits for the acknowledgment.
func (a *API) SetDebugMode(ctx context.Context, debug bool) error {
	ack := make(chan struct{}, 1)
	return a.request(ctx, setDebugMode{debug: debug, ack: ack}, ack)
}

// GetDebugMode returns the current debug flag.
func (a *API) GetDebugMode(ctx context.Context) (bool, error) {
	resp := make(chan bool, 1)
	cmd := getDebugMode{resp: resp}
	if err := a.send(ctx, cmd); err != nil {
		return false, err
	}
	return await(ctx, a.done, resp, cmd.name())
}

// IsCancelling reports whether id is between cancel request and confirmation.
func (a *API) IsCancelling(ctx context.Context, id uuid.UUID) (bool, error) {
	resp := make(chan bool, 1)
	cmd := isCancelling{id: id, resp: resp}
	if err := a.send(ctx, cmd); err != nil {
		return false, err
	}
	return await(ctx, a.done, resp, cmd.name())
}

// NotifyCancelingOperation records id as being cancelled. No acknowledgment.
func (a *API) NotifyCancelingOperation(id uuid.UUID) error {
	return a.send(context.Background(), notifyCanceling{id: id})
}

// NotifyCanceledOperation drops id from the cancelling set. No acknowledgment.
func (a *API) NotifyCanceledOperation(id uuid.UUID) error {
	return a.send(context.Background(), notifyCanceled{id: id})
}

// Shutdown asks the loop to exit normally.
func (a *API) Shutdown() error {
	return a.send(context.Background(), shutdown{})
}

// ShutdownWithError asks the loop to exit with an error. Used to exercise
// session failure handling.
func (a *API) ShutdownWithError() error {
	return a.send(context.Background(), shutdownWithError{})
}

func (a *API) send(ctx context.Context, cmd command) error {
	select {
	case <-a.done:
		return errors.Channel(fmt.Sprintf("fail to send State::%s; state loop is finished", cmd.name()))
	default:
	}
	select {
	case a.tx <- cmd:
		return nil
	case <-a.done:
		return errors.Channel(fmt.Sprintf("fail to send State::%s; state loop is finished", cmd.name()))
	case <-ctx.Done():
		return errors.Channel(fmt.Sprintf("fail to send State::%s: %v", cmd.name(), ctx.Err()))
	}
}

func (a *API) request(ctx context.Context, cmd command, ack <-chan struct{}) error {
	if err := a.send(ctx, cmd); err != nil {
		return err
	}
	_, err := await(ctx, a.done, ack, cmd.name())
	return err
}

// await waits for a response, preferring a response that raced with the loop exiting.
func await[T any](ctx context.Context, done <-chan struct{}, resp <-chan T, name string) (T, error) {
	var zero T
	select {
	case v := <-resp:
		return v, nil
	case <-done:
		select {
		case v := <-resp:
			return v, nil
		default:
			return zero, errors.Channel(fmt.Sprintf("fail to get response from State::%s", name))
		}
	case <-ctx.Done():
		return zero, errors.Channel(fmt.Sprintf("fail to get response from State::%s: %v", name, ctx.Err()))
	}
}
