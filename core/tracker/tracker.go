// Package tracker keeps the registry of in-flight operations. The registry is
// owned by the loop in Tracker.Run and is only reached through an *API.
package tracker

import (
	"context"
	"encoding/json"
	"time"

	"conductor/core/errors"
	"conductor/core/logger"
	"conductor/core/metrics"
	"conductor/core/token"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// StateNotifier receives the two halves of a confirmed cancellation.
type StateNotifier interface {
	NotifyCancelingOperation(id uuid.UUID) error
	NotifyCanceledOperation(id uuid.UUID) error
}

type entry struct {
	name   string
	cancel *token.Token
	done   *token.Token
	stat   *OperationStat
}

// Tracker is the registry actor.
type Tracker struct {
	rx       chan command
	quit     chan struct{}
	state    StateNotifier
	clock    clock.Clock
	log      *zap.Logger
	entries  map[uuid.UUID]*entry
	history  []*OperationStat
	cancelTx *API
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source used for operation stats.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// New creates a tracker. Cancellation progress is reported to state.
func New(mailbox int, state StateNotifier, opts ...Option) *Tracker {
	t := &Tracker{
		rx:      make(chan command, mailbox),
		quit:    make(chan struct{}),
		state:   state,
		clock:   clock.WallClock,
		log:     logger.Named("tracker"),
		entries: make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cancelTx = t.API()
	return t
}

// API returns a client handle bound to this tracker.
func (t *Tracker) API() *API {
	return &API{tx: t.rx, done: t.quit}
}

// Run serves commands until Shutdown. ShutdownWithError and ctx cancellation
// return an error.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.quit)
	defer t.drain()
	t.log.Debug("task is started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-t.rx:
			switch cmd := msg.(type) {
			case addOperation:
				cmd.resp <- t.add(cmd)
			case removeOperation:
				t.remove(cmd.id)
				if cmd.ack != nil {
					cmd.ack <- struct{}{}
				}
			case cancelOperation:
				e, ok := t.entries[cmd.id]
				if ok {
					t.cancel(cmd.id, e)
				}
				cmd.resp <- ok
			case cancelAll:
				n := 0
				for id, e := range t.entries {
					if !e.cancel.IsCancelled() {
						t.cancel(id, e)
						n++
					}
				}
				cmd.resp <- n
			case getStats:
				cmd.resp <- t.stats()
			case shutdown:
				t.log.Debug("shutdown has been requested")
				return nil
			case shutdownWithError:
				t.log.Debug("shutdown tracker loop with error for testing")
				return errors.NewNative(errors.SeverityError, errors.KindIo, "Shutdown tracker loop with error for testing")
			}
		}
	}
}

func (t *Tracker) add(cmd addOperation) bool {
	if _, ok := t.entries[cmd.id]; ok {
		return false
	}
	stat := newStat(cmd.id, cmd.opName, t.clock.Now())
	t.entries[cmd.id] = &entry{name: cmd.opName, cancel: cmd.cancel, done: cmd.done, stat: stat}
	t.history = append(t.history, stat)
	metrics.OperationsStarted.WithLabelValues(cmd.opName).Inc()
	metrics.OperationsInFlight.Inc()
	return true
}

func (t *Tracker) remove(id uuid.UUID) {
	e, ok := t.entries[id]
	if !ok {
		return
	}
	delete(t.entries, id)
	e.stat.done(t.clock.Now())
	metrics.OperationsInFlight.Dec()
	metrics.OperationDuration.WithLabelValues(e.name).Observe(float64(e.stat.Duration) / float64(time.Second/time.Microsecond))
}

// cancel sets the token and hands confirmation to a watcher so the loop
// never waits on an operation.
func (t *Tracker) cancel(id uuid.UUID, e *entry) {
	e.cancel.Cancel()
	metrics.OperationsCancelled.WithLabelValues(e.name).Inc()
	if err := t.state.NotifyCancelingOperation(id); err != nil {
		t.log.Warn("fail to notify state about canceling", zap.Stringer("operation", id), zap.Error(err))
	}
	go t.watch(id, e.done)
}

func (t *Tracker) watch(id uuid.UUID, done *token.Token) {
	select {
	case <-done.Done():
	case <-t.quit:
		return
	}
	if err := t.state.NotifyCanceledOperation(id); err != nil {
		t.log.Debug("fail to notify state about canceled operation", zap.Stringer("operation", id), zap.Error(err))
	}
	if err := t.cancelTx.send(context.Background(), removeOperation{id: id}); err != nil {
		t.log.Debug("fail to remove canceled operation", zap.Stringer("operation", id), zap.Error(err))
	}
}

func (t *Tracker) stats() statsResult {
	list := t.history
	if list == nil {
		list = []*OperationStat{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return statsResult{err: errors.NewNative(errors.SeverityError, errors.KindIo, "fail to encode operations stats: %v", err)}
	}
	return statsResult{json: string(data)}
}

// drain releases in-flight gauge accounting for entries left at exit.
func (t *Tracker) drain() {
	for id := range t.entries {
		metrics.OperationsInFlight.Dec()
		delete(t.entries, id)
	}
}
