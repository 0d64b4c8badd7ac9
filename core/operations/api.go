package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"conductor/core/errors"
	"conductor/core/events"
	"conductor/core/logger"
	"conductor/core/metrics"
	"conductor/core/token"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "conductor-operations"

// Tracker is the part of the tracker client used by operations.
type Tracker interface {
	AddOperation(ctx context.Context, id uuid.UUID, name string, cancel, done *token.Token) (bool, error)
	RemoveOperation(ctx context.Context, id uuid.UUID) error
	CancelOperation(ctx context.Context, id uuid.UUID) (bool, error)
	Shutdown() error
}

// State is the part of the state client used by operations.
type State interface {
	IsClosing() bool
	CloseSession(ctx context.Context) error
}

// API is the handle of a single operation. Handlers use it to report
// progress and to observe cancellation. One API is bound to one id.
type API struct {
	id       uuid.UUID
	emitter  events.Emitter
	state    State
	tracker  Tracker
	cancel   *token.Token
	done     *token.Token
	finished sync.Once
	span     trace.Span
	wg       *sync.WaitGroup
	log      *zap.Logger
}

// NewAPI creates the handle for operation id with a fresh pair of tokens.
func NewAPI(id uuid.UUID, emitter events.Emitter, state State, tracker Tracker) *API {
	return &API{
		id:      id,
		emitter: emitter,
		state:   state,
		tracker: tracker,
		cancel:  token.New(),
		done:    token.New(),
		log:     logger.Named("operations").With(zap.Stringer("operation", id)),
	}
}

// ID returns the operation id.
func (a *API) ID() uuid.UUID { return a.id }

// CancellationToken is set when the operation is asked to stop.
func (a *API) CancellationToken() *token.Token { return a.cancel }

// DoneToken is set exactly once, after the terminal event is emitted.
func (a *API) DoneToken() *token.Token { return a.done }

// Emit sends ev to the session stream. Failures are logged.
func (a *API) Emit(ev events.CallbackEvent) {
	if err := a.emitter.Emit(ev); err != nil {
		a.log.Error("fail to send event", zap.Stringer("event", ev), zap.Error(err))
	}
}

// Started emits OperationStarted.
func (a *API) Started() {
	a.Emit(events.OperationStarted{UUID: a.id})
}

// Processing emits OperationProcessing.
func (a *API) Processing() {
	a.Emit(events.OperationProcessing{UUID: a.id})
}

// Finish reports the outcome of the operation. A nil result yields
// OperationDone with no payload; a non-nil one is sent JSON encoded.
// Only the first call has any effect.
func (a *API) Finish(result any, err error, alias string) {
	a.finished.Do(func() {
		a.finish(result, err, alias)
	})
}

func (a *API) finish(result any, err error, alias string) {
	var ev events.CallbackEvent
	switch {
	case err != nil:
		native := errors.ToNative(err)
		a.log.Warn("operation done with error", zap.String("alias", alias), zap.Error(native))
		ev = events.OperationError{UUID: a.id, Error: native}
	case result == nil:
		ev = events.OperationDone{UUID: a.id}
	default:
		data, encErr := json.Marshal(result)
		if encErr != nil {
			ev = events.OperationError{
				UUID:  a.id,
				Error: errors.NewNative(errors.SeverityError, errors.KindComputationFailed, "%v", encErr),
			}
			break
		}
		s := string(data)
		ev = events.OperationDone{UUID: a.id, Result: &s}
	}

	// A cancelled operation is dropped by the tracker once done fires; a
	// closing session no longer serves removals.
	if !a.state.IsClosing() && !a.cancel.IsCancelled() {
		if rmErr := a.tracker.RemoveOperation(context.Background(), a.id); rmErr != nil {
			a.log.Error("failed to remove operation", zap.Error(rmErr))
		}
	}

	_, failed := ev.(events.OperationError)
	metrics.ObserveFinished(alias, failed)
	if a.span != nil {
		if failed {
			a.span.SetStatus(codes.Error, ev.String())
		} else {
			a.span.SetStatus(codes.Ok, "")
		}
		a.span.End()
	}

	a.log.Debug("operation finished", zap.String("alias", alias))
	a.Emit(ev)
	a.done.Cancel()
}

// Execute registers the operation with the tracker and runs h in a new
// goroutine. It returns once the goroutine is started; the outcome is
// reported through the event stream.
func (a *API) Execute(ctx context.Context, op Operation, h Handler) error {
	name := op.Kind.Name()
	added, err := a.tracker.AddOperation(ctx, a.id, name, a.cancel, a.done)
	if err != nil {
		return errors.ToNative(err)
	}
	if !added {
		return errors.NewNative(errors.SeverityError, errors.KindComputationFailed, "Operation %s already exists", a.id)
	}

	hctx, span := otel.Tracer(tracerName).Start(a.cancel.Context(), fmt.Sprintf("Operation: %s", name),
		trace.WithAttributes(
			attribute.String("operation.id", a.id.String()),
			attribute.String("operation.name", name),
		))
	a.span = span

	if a.wg != nil {
		a.wg.Add(1)
	}
	go func() {
		if a.wg != nil {
			defer a.wg.Done()
		}
		a.Started()
		result, err := a.safelyHandle(hctx, h, op.Kind)
		a.Finish(result, err, name)
	}()
	return nil
}

// safelyHandle runs h and turns a panic into an error.
func (a *API) safelyHandle(ctx context.Context, h Handler, kind Kind) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic recovered in operation handler", zap.String("kind", kind.Name()), zap.Any("panic", r))
			result = nil
			err = errors.NewNative(errors.SeverityError, errors.KindComputationFailed, "panic in %s operation: %v", kind.Name(), r)
		}
	}()
	return h.Handle(ctx, a, kind)
}
