package operations

import (
	"context"
	"sync"

	"conductor/core/errors"
	"conductor/core/events"
	"conductor/core/logger"

	"go.uber.org/zap"
)

// Dispatcher consumes operation requests in arrival order and starts each
// one through its own API handle.
type Dispatcher struct {
	requests <-chan Operation
	state    State
	tracker  Tracker
	emitter  events.Emitter
	registry *Registry
	running  sync.WaitGroup
	log      *zap.Logger
}

// NewDispatcher wires a dispatcher. The registry decides which kinds can run.
func NewDispatcher(requests <-chan Operation, state State, tracker Tracker, emitter events.Emitter, registry *Registry) *Dispatcher {
	return &Dispatcher{
		requests: requests,
		state:    state,
		tracker:  tracker,
		emitter:  emitter,
		registry: registry,
		log:      logger.Named("operations"),
	}
}

// Run serves requests until End arrives, the request channel is closed or
// ctx ends. It then closes the session, shuts the tracker down and waits for
// every started operation to report.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Debug("task is started")
loop:
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("dispatcher context is done", zap.Error(ctx.Err()))
			break loop
		case op, ok := <-d.requests:
			if !ok {
				d.log.Debug("requests channel is closed")
				break loop
			}
			if _, end := op.Kind.(End); end {
				d.log.Debug("session closing is requested")
				break loop
			}
			d.schedule(ctx, op)
		}
	}

	d.reject()

	teardown := context.WithoutCancel(ctx)
	if err := d.state.CloseSession(teardown); err != nil {
		d.log.Error("failed to close session", zap.Error(err))
	}
	if err := d.tracker.Shutdown(); err != nil {
		d.log.Error("failed to shutdown tracker", zap.Error(err))
	}
	d.running.Wait()
	d.log.Debug("operations task finished")
	return nil
}

// reject reports every request still queued once the loop has stopped.
func (d *Dispatcher) reject() {
	for {
		select {
		case op, ok := <-d.requests:
			if !ok {
				return
			}
			if _, end := op.Kind.(End); end {
				continue
			}
			d.log.Warn("operation is rejected; session is closing", zap.Stringer("operation", op))
			if err := d.emitter.Emit(events.OperationError{UUID: op.ID, Error: errors.Channel("session is closing")}); err != nil {
				d.log.Error("fail to send event", zap.Error(err))
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) schedule(ctx context.Context, op Operation) {
	api := NewAPI(op.ID, d.emitter, d.state, d.tracker)
	api.wg = &d.running
	h, err := d.registry.Lookup(op.Kind.Name())
	if err == nil {
		err = api.Execute(ctx, op, h)
	}
	if err != nil {
		d.log.Warn("fail to schedule operation", zap.Stringer("operation", op), zap.Error(err))
		api.Emit(events.OperationError{UUID: op.ID, Error: errors.ToNative(err)})
	}
}
