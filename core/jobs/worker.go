package jobs

import (
	"context"
	"fmt"
	"sync"

	"conductor/core/errors"
	"conductor/core/logger"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

type message interface{}

type shutdownMsg struct{ ack chan struct{} }
type cancelMsg struct{ id uint64 }
type removeMsg struct{ id uint64 }
type runMsg struct {
	id   uint64
	cmd  Command
	resp chan result
}

type result struct {
	outcome Outcome
	err     error
}

// Worker owns the registry of running jobs. Every change to it goes through
// the loop in Start.
type Worker struct {
	rx      chan message
	quit    chan struct{}
	done    chan struct{}
	clock   clock.Clock
	jobs    map[uint64]context.CancelFunc
	running sync.WaitGroup
	log     *zap.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock sets the clock handed to commands.
func WithClock(c clock.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// NewWorker creates a worker with room for mailbox pending messages.
func NewWorker(mailbox int, opts ...Option) *Worker {
	w := &Worker{
		rx:    make(chan message, mailbox),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		clock: clock.WallClock,
		jobs:  make(map[uint64]context.CancelFunc),
		log:   logger.Named("jobs"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// API returns a client handle for the worker.
func (w *Worker) API() *API {
	return &API{tx: w.rx, done: w.done}
}

// Start processes messages until Shutdown or ctx ends. Running jobs are
// cancelled and waited for before it returns.
func (w *Worker) Start(ctx context.Context) error {
	defer close(w.done)
	w.log.Debug("task is started")
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return ctx.Err()
		case msg := <-w.rx:
			switch m := msg.(type) {
			case runMsg:
				w.run(ctx, m)
			case cancelMsg:
				if cancel, ok := w.jobs[m.id]; ok {
					cancel()
				} else {
					w.log.Debug("cancel of unknown job", zap.Uint64("job", m.id))
				}
			case removeMsg:
				if cancel, ok := w.jobs[m.id]; ok {
					cancel()
					delete(w.jobs, m.id)
				}
			case shutdownMsg:
				w.stop()
				m.ack <- struct{}{}
				w.log.Debug("shutdown has been requested")
				return nil
			}
		}
	}
}

func (w *Worker) run(ctx context.Context, m runMsg) {
	if _, exists := w.jobs[m.id]; exists {
		m.resp <- result{err: errors.NewComputation(errors.Protocol, "job %d is already running", m.id)}
		return
	}
	jctx, cancel := context.WithCancel(ctx)
	w.jobs[m.id] = cancel
	w.running.Add(1)
	go func() {
		defer w.running.Done()
		v, err := m.cmd.Execute(jctx, w.clock)
		switch {
		case err == nil:
			m.resp <- result{outcome: Finished(v)}
		case errors.Is(err, context.Canceled):
			m.resp <- result{outcome: CancelledOutcome()}
		default:
			m.resp <- result{err: err}
		}
		select {
		case w.rx <- removeMsg{id: m.id}:
		case <-w.quit:
		}
	}()
}

func (w *Worker) stop() {
	close(w.quit)
	for id, cancel := range w.jobs {
		cancel()
		delete(w.jobs, id)
	}
	w.running.Wait()
}

// API is the client handle of the unbound worker.
type API struct {
	tx   chan<- message
	done <-chan struct{}
}

// Shutdown stops the worker and waits for the acknowledgment. Calling it on a
// stopped worker is a no-op.
func (a *API) Shutdown(ctx context.Context) error {
	ack := make(chan struct{}, 1)
	select {
	case <-a.done:
		return nil
	case a.tx <- shutdownMsg{ack: ack}:
	case <-ctx.Done():
		return errors.NewComputation(errors.Communication, "Fail to send API::Shutdown: %v", ctx.Err())
	}
	select {
	case <-ack:
		return nil
	case <-a.done:
		return nil
	case <-ctx.Done():
		return errors.NewComputation(errors.Communication, "Fail to get response from API::Shutdown: %v", ctx.Err())
	}
}

// CancelJob asks the worker to cancel job id. It does not wait for the job.
func (a *API) CancelJob(id uint64) error {
	return a.send(context.Background(), cancelMsg{id: id}, "API::CancelJob")
}

// Run executes cmd as job id and waits for its outcome.
func (a *API) Run(ctx context.Context, id uint64, cmd Command) (Outcome, error) {
	resp := make(chan result, 1)
	if err := a.send(ctx, runMsg{id: id, cmd: cmd, resp: resp}, fmt.Sprintf("Job::%s", cmd.Type())); err != nil {
		return Outcome{}, err
	}
	select {
	case r := <-resp:
		return r.outcome, r.err
	case <-a.done:
		select {
		case r := <-resp:
			return r.outcome, r.err
		default:
			return Outcome{}, errors.NewComputation(errors.Communication, "channel error: worker is stopped")
		}
	case <-ctx.Done():
		return Outcome{}, errors.NewComputation(errors.Communication, "channel error: %v", ctx.Err())
	}
}

// CancelTest runs the CancelTest command.
func (a *API) CancelTest(ctx context.Context, id uint64, cmd CancelTest) (Outcome, error) {
	return a.Run(ctx, id, cmd)
}

func (a *API) send(ctx context.Context, msg message, name string) error {
	select {
	case <-a.done:
		return errors.NewComputation(errors.Communication, "Fail to send %s", name)
	default:
	}
	select {
	case a.tx <- msg:
		return nil
	case <-a.done:
		return errors.NewComputation(errors.Communication, "Fail to send %s", name)
	case <-ctx.Done():
		return errors.NewComputation(errors.Communication, "Fail to send %s: %v", name, ctx.Err())
	}
}
