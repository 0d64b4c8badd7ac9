// Package state owns the session-level status. All mutations go through the
// single loop in Actor.Run; other components hold an *API that only sends
// messages to it.
package state

import (
	"context"

	"conductor/core/errors"
	"conductor/core/logger"
	"conductor/core/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status of a session. It moves from Open to Closed once and never back.
type Status int

const (
	Open Status = iota
	Closed
)

func (s Status) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// SessionState is the record owned by the state loop.
type SessionState struct {
	CancellingOperations map[uuid.UUID]bool
	Status               Status
	Debug                bool
}

type command interface {
	name() string
}

type closeSession struct{ ack chan struct{} }
type setDebugMode struct {
	debug bool
	ack   chan struct{}
}
type getDebugMode struct{ resp chan bool }
type isCancelling struct {
	id   uuid.UUID
	resp chan bool
}
type notifyCanceling struct{ id uuid.UUID }
type notifyCanceled struct{ id uuid.UUID }
type shutdown struct{}
type shutdownWithError struct{}

func (closeSession) name() string      { return "CloseSession" }
func (setDebugMode) name() string      { return "SetDebugMode" }
func (getDebugMode) name() string      { return "GetDebugMode" }
func (isCancelling) name() string      { return "IsCancelling" }
func (notifyCanceling) name() string   { return "NotifyCancelingOperation" }
func (notifyCanceled) name() string    { return "NotifyCanceledOperation" }
func (shutdown) name() string          { return "Shutdown" }
func (shutdownWithError) name() string { return "ShutdownWithError" }

// Actor is the state loop together with the record it owns.
type Actor struct {
	rx      chan command
	done    chan struct{}
	closing *token.Token
	state   SessionState
	log     *zap.Logger
}

// New creates a state actor whose mailbox holds up to mailbox pending commands.
func New(mailbox int) *Actor {
	return &Actor{
		rx:      make(chan command, mailbox),
		done:    make(chan struct{}),
		closing: token.New(),
		state: SessionState{
			CancellingOperations: make(map[uuid.UUID]bool),
			Status:               Open,
		},
		log: logger.Named("state"),
	}
}

// API returns a client handle bound to this actor.
func (a *Actor) API() *API {
	return &API{tx: a.rx, done: a.done, closing: a.closing}
}

// Run processes commands until Shutdown. Any other way out, including
// ShutdownWithError and ctx cancellation, returns an error: the owner must
// treat it as a crash of the session.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	// A finished state loop means the session is going away.
	defer a.closing.Cancel()
	a.log.Debug("task is started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-a.rx:
			switch cmd := msg.(type) {
			case closeSession:
				a.closing.Cancel()
				a.state.Status = Closed
				// Operations are not cancelled here: a cancelling operation may
				// need this loop, and waiting for it from inside would deadlock.
				cmd.ack <- struct{}{}
			case setDebugMode:
				a.state.Debug = cmd.debug
				cmd.ack <- struct{}{}
			case getDebugMode:
				cmd.resp <- a.state.Debug
			case isCancelling:
				cmd.resp <- a.state.CancellingOperations[cmd.id]
			case notifyCanceling:
				a.state.CancellingOperations[cmd.id] = true
			case notifyCanceled:
				delete(a.state.CancellingOperations, cmd.id)
			case shutdown:
				a.log.Debug("shutdown has been requested")
				return nil
			case shutdownWithError:
				a.log.Debug("shutdown state loop with error for testing")
				return errors.NewNative(errors.SeverityError, errors.KindIo, "Shutdown state loop with error for testing")
			}
		}
	}
}
