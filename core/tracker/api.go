package tracker

import (
	"context"
	"fmt"

	"conductor/core/errors"
	"conductor/core/token"

	"github.com/google/uuid"
)

type command interface {
	name() string
}

type addOperation struct {
	id     uuid.UUID
	opName string
	cancel *token.Token
	done   *token.Token
	resp   chan bool
}

type removeOperation struct {
	id  uuid.UUID
	ack chan struct{}
}

type cancelOperation struct {
	id   uuid.UUID
	resp chan bool
}

type cancelAll struct{ resp chan int }

type statsResult struct {
	json string
	err  error
}

type getStats struct{ resp chan statsResult }
type shutdown struct{}
type shutdownWithError struct{}

func (addOperation) name() string      { return "AddOperation" }
func (removeOperation) name() string   { return "RemoveOperation" }
func (cancelOperation) name() string   { return "CancelOperation" }
func (cancelAll) name() string         { return "CancelAll" }
func (getStats) name() string          { return "GetOperationsStat" }
func (shutdown) name() string          { return "Shutdown" }
func (shutdownWithError) name() string { return "ShutdownWithError" }

// API is the client handle of the tracker. Copies share the same loop.
type API struct {
	tx   chan<- command
	done <-chan struct{}
}

// AddOperation registers an operation. It returns false when id is already tracked.
func (a *API) AddOperation(ctx context.Context, id uuid.UUID, name string, cancel, done *token.Token) (bool, error) {
	resp := make(chan bool, 1)
	return call(ctx, a, addOperation{id: id, opName: name, cancel: cancel, done: done, resp: resp}, resp)
}

// RemoveOperation drops id from the registry and finalizes its duration.
// Removing an unknown id is not an error.
func (a *API) RemoveOperation(ctx context.Context, id uuid.UUID) error {
	ack := make(chan struct{}, 1)
	_, err := call(ctx, a, removeOperation{id: id, ack: ack}, ack)
	return err
}

// CancelOperation sets the cancellation token of id. It returns false when
// id is not tracked. Removal happens once the operation confirms it is done.
func (a *API) CancelOperation(ctx context.Context, id uuid.UUID) (bool, error) {
	resp := make(chan bool, 1)
	return call(ctx, a, cancelOperation{id: id, resp: resp}, resp)
}

// CancelAll cancels every tracked operation and returns how many were signalled.
func (a *API) CancelAll(ctx context.Context) (int, error) {
	resp := make(chan int, 1)
	return call(ctx, a, cancelAll{resp: resp}, resp)
}

// GetOperationsStat returns all known operation stats as a JSON array.
func (a *API) GetOperationsStat(ctx context.Context) (string, error) {
	resp := make(chan statsResult, 1)
	res, err := call(ctx, a, getStats{resp: resp}, resp)
	if err != nil {
		return "", err
	}
	return res.json, res.err
}

// Shutdown asks the loop to exit normally.
func (a *API) Shutdown() error {
	return a.send(context.Background(), shutdown{})
}

// ShutdownWithError asks the loop to exit with an error.
func (a *API) ShutdownWithError() error {
	return a.send(context.Background(), shutdownWithError{})
}

func (a *API) send(ctx context.Context, cmd command) error {
	select {
	case <-a.done:
		return errors.Channel(fmt.Sprintf("fail to send Tracker::%s; tracker loop is finished", cmd.name()))
	default:
	}
	select {
	case a.tx <- cmd:
		return nil
	case <-a.done:
		return errors.Channel(fmt.Sprintf("fail to send Tracker::%s; tracker loop is finished", cmd.name()))
	case <-ctx.Done():
		return errors.Channel(fmt.Sprintf("fail to send Tracker::%s: %v", cmd.name(), ctx.Err()))
	}
}

func call[T any](ctx context.Context, a *API, cmd command, resp <-chan T) (T, error) {
	var zero T
	if err := a.send(ctx, cmd); err != nil {
		return zero, err
	}
	select {
	case v := <-resp:
		return v, nil
	case <-a.done:
		select {
		case v := <-resp:
			return v, nil
		default:
			return zero, errors.Channel(fmt.Sprintf("fail to get response from Tracker::%s", cmd.name()))
		}
	case <-ctx.Done():
		return zero, errors.Channel(fmt.Sprintf("fail to get response from Tracker::%s: %v", cmd.name(), ctx.Err()))
	}
}
