// Package session ties the state actor, the tracker actor and the operations
// dispatcher into one unit with a single event stream.
package session

import (
	"context"
	"fmt"

	"conductor/core/errors"
	"conductor/core/events"
	"conductor/core/handlers/extcall"
	"conductor/core/handlers/sleep"
	"conductor/core/logger"
	"conductor/core/metrics"
	"conductor/core/operations"
	"conductor/core/state"
	"conductor/core/tracker"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session is a running session. All methods are safe for concurrent use.
type Session struct {
	id         uuid.UUID
	requests   chan operations.Operation
	dispatched chan struct{}
	destroyed  chan struct{}
	state      *state.API
	tracker    *tracker.API
	stream     *events.Stream
	log        *zap.Logger

	submits   chan submission
	inboxDone chan struct{}
}

type submission struct {
	op   operations.Operation
	resp chan error
}

// New starts a session and returns it with its event stream. The stream is
// closed right after SessionDestroyed. Cancelling ctx ends the session the
// same way End does.
func New(ctx context.Context, id uuid.UUID, opts ...Option) (*Session, <-chan events.CallbackEvent, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	registry := operations.NewRegistry()
	if err := registry.Register(operations.SleepName, sleep.New(o.clock)); err != nil {
		return nil, nil, err
	}
	var extOpts []extcall.Option
	if o.loader != nil {
		extOpts = append(extOpts, extcall.WithLoader(o.loader))
	}
	if len(o.checksums) > 0 {
		extOpts = append(extOpts, extcall.WithChecksums(o.checksums))
	}
	ext, err := extcall.New(o.versionConstraint, extOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("configure %s handler: %w", operations.ExternalLibCallName, err)
	}
	if err := registry.Register(operations.ExternalLibCallName, ext); err != nil {
		return nil, nil, err
	}

	st := state.New(o.mailbox)
	tr := tracker.New(o.mailbox, st.API(), tracker.WithClock(o.clock))
	s := &Session{
		id:         id,
		requests:   make(chan operations.Operation, o.mailbox),
		dispatched: make(chan struct{}),
		destroyed:  make(chan struct{}),
		state:      st.API(),
		tracker:    tr.API(),
		stream:     events.NewStream(o.eventBuffer),
		log:        logger.Named("session").With(zap.Stringer("session", id)),
		submits:    make(chan submission),
		inboxDone:  make(chan struct{}),
	}
	dispatcher := operations.NewDispatcher(s.requests, s.state, s.tracker, s.stream, registry)

	loopCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		defer close(s.dispatched)
		err := dispatcher.Run(loopCtx)
		if shErr := s.state.Shutdown(); shErr != nil {
			s.log.Debug("fail to shutdown state loop", zap.Error(shErr))
		}
		return err
	})
	g.Go(func() error {
		return s.watchLoop("state", st.Run(loopCtx))
	})
	g.Go(func() error {
		return s.watchLoop("tracker", tr.Run(loopCtx))
	})

	go s.inbox()

	go func() {
		err := g.Wait()
		if err != nil {
			s.emit(events.SessionError{Error: errors.ToNative(err)})
		}
		s.emit(events.SessionDestroyed{})
		s.stream.Close()
		close(s.destroyed)
		s.log.Debug("session is destroyed")
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.log.Debug("session context is done", zap.Error(ctx.Err()))
			s.end(uuid.New())
		case <-s.destroyed:
		}
	}()

	if o.debug {
		if err := s.state.SetDebugMode(ctx, true); err != nil {
			s.log.Warn("fail to set debug mode", zap.Error(err))
		}
	}
	s.log.Debug("session is started")
	return s, s.stream.Events(), nil
}

// watchLoop turns an abnormal actor exit into a session shutdown.
func (s *Session) watchLoop(name string, err error) error {
	if err == nil {
		return nil
	}
	metrics.SessionLoopFailures.WithLabelValues(name).Inc()
	s.log.Error("loop finished with error", zap.String("loop", name), zap.Error(err))
	s.end(uuid.New())
	return fmt.Errorf("%s loop: %w", name, err)
}

func (s *Session) emit(ev events.CallbackEvent) {
	if err := s.stream.Emit(ev); err != nil {
		s.log.Error("fail to send event", zap.Stringer("event", ev), zap.Error(err))
	}
}

// submit queues op for the dispatcher. It never waits for the dispatcher;
// once End has been queued every further request is refused.
func (s *Session) submit(op operations.Operation) error {
	resp := make(chan error, 1)
	select {
	case s.submits <- submission{op: op, resp: resp}:
		return <-resp
	case <-s.inboxDone:
		return errors.NewComputation(errors.Communication, "fail to send operation %s; session is closing", op)
	}
}

// end queues End unless it is already queued.
func (s *Session) end(id uuid.UUID) {
	if err := s.submit(operations.New(id, operations.End{})); err != nil {
		s.log.Debug("session end is already requested", zap.Error(err))
	}
}

// inbox owns the unbounded queue of accepted operations and hands them to
// the dispatcher in order. It returns once End has been handed over.
func (s *Session) inbox() {
	defer close(s.inboxDone)
	defer close(s.requests)
	var (
		queue []operations.Operation
		ended bool
	)
	for {
		var (
			out  chan<- operations.Operation
			head operations.Operation
		)
		if len(queue) > 0 {
			out, head = s.requests, queue[0]
		}
		select {
		case sub := <-s.submits:
			if ended {
				sub.resp <- errors.NewComputation(errors.Communication, "fail to send operation %s; session is closing", sub.op)
				continue
			}
			if _, end := sub.op.Kind.(operations.End); end {
				ended = true
			}
			queue = append(queue, sub.op)
			sub.resp <- nil
		case out <- head:
			queue = queue[1:]
			if _, end := head.Kind.(operations.End); end {
				return
			}
		case <-s.dispatched:
			return
		}
	}
}

func communication(err error) error {
	if err == nil {
		return nil
	}
	return errors.NewComputation(errors.Communication, "%v", err)
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Done is closed once SessionDestroyed has been emitted.
func (s *Session) Done() <-chan struct{} { return s.destroyed }

// Sleep submits a Sleeping operation.
func (s *Session) Sleep(opID uuid.UUID, ms uint64) error {
	return s.submit(operations.New(opID, operations.Sleep{Ms: ms}))
}

// ExternalLibCall submits an ExternalLibCall operation.
func (s *Session) ExternalLibCall(opID uuid.UUID, path string, a, b uint64, lines []string) error {
	return s.submit(operations.New(opID, operations.ExternalLibCall{Path: path, A: a, B: b, Lines: lines}))
}

// Abort submits a Canceling operation aimed at target.
func (s *Session) Abort(opID, target uuid.UUID) error {
	return s.submit(operations.New(opID, operations.Cancel{Target: target}))
}

// Stop cancels every tracked operation, requests End and waits until the
// session is destroyed or ctx ends.
func (s *Session) Stop(ctx context.Context, opID uuid.UUID) (err error) {
	ctx, span := otel.Tracer("conductor-session").Start(ctx, "Session.Stop",
		trace.WithAttributes(attribute.String("session.id", s.id.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if n, cancelErr := s.tracker.CancelAll(ctx); cancelErr != nil {
		s.log.Debug("fail to cancel operations on stop", zap.Error(cancelErr))
	} else if n > 0 {
		s.log.Debug("operations cancelled on stop", zap.Int("count", n))
	}
	s.end(opID)
	select {
	case <-s.destroyed:
		return nil
	case <-ctx.Done():
		return errors.NewComputation(errors.Communication, "session %s is not destroyed: %v", s.id, ctx.Err())
	}
}

// SetDebug sets the session debug flag.
func (s *Session) SetDebug(ctx context.Context, debug bool) error {
	return communication(s.state.SetDebugMode(ctx, debug))
}

// GetDebug returns the session debug flag.
func (s *Session) GetDebug(ctx context.Context) (bool, error) {
	debug, err := s.state.GetDebugMode(ctx)
	return debug, communication(err)
}

// GetOperationsStat returns the JSON encoded stats of all known operations.
func (s *Session) GetOperationsStat(ctx context.Context) (string, error) {
	stats, err := s.tracker.GetOperationsStat(ctx)
	return stats, communication(err)
}

// TriggerStateError makes the state loop exit with an error.
func (s *Session) TriggerStateError() error {
	return communication(s.state.ShutdownWithError())
}

// TriggerTrackerError makes the tracker loop exit with an error.
func (s *Session) TriggerTrackerError() error {
	return communication(s.tracker.ShutdownWithError())
}
