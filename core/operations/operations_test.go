package operations

import (
	"context"
	"testing"
	"time"

	"conductor/core/errors"
	"conductor/core/events"
	"conductor/core/state"
	"conductor/core/tracker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubKind struct{ name string }

func (p stubKind) Name() string { return p.name }

type harness struct {
	t          *testing.T
	stream     *events.Stream
	state      *state.API
	tracker    *tracker.API
	registry   *Registry
	requests   chan Operation
	dispatched chan error
	stateDone  chan error
	trackDone  chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st := state.New(16)
	tr := tracker.New(16, st.API())
	h := &harness{
		t:          t,
		stream:     events.NewStream(16),
		state:      st.API(),
		tracker:    tr.API(),
		registry:   NewRegistry(),
		requests:   make(chan Operation, 16),
		dispatched: make(chan error, 1),
		stateDone:  make(chan error, 1),
		trackDone:  make(chan error, 1),
	}
	go func() { h.stateDone <- st.Run(ctx) }()
	go func() { h.trackDone <- tr.Run(ctx) }()
	return h
}

func (h *harness) start() {
	d := NewDispatcher(h.requests, h.state, h.tracker, h.stream, h.registry)
	go func() { h.dispatched <- d.Run(context.Background()) }()
}

func (h *harness) stop() {
	h.requests <- New(uuid.New(), End{})
	require.NoError(h.t, wait(h.t, h.dispatched))
	require.NoError(h.t, wait(h.t, h.trackDone))
	require.NoError(h.t, h.state.Shutdown())
	require.NoError(h.t, wait(h.t, h.stateDone))
	h.stream.Close()
}

func (h *harness) next() events.CallbackEvent {
	h.t.Helper()
	select {
	case ev := <-h.stream.Events():
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatal("no event received")
		return nil
	}
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
		return nil
	}
}

func TestFinishWithResult(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	api := NewAPI(uuid.New(), h.stream, h.state, h.tracker)
	api.Finish(map[string]int{"sum": 3}, nil, "Echo")
	api.Finish(nil, nil, "Echo")

	ev := h.next()
	done, ok := ev.(events.OperationDone)
	require.True(t, ok, "got %v", ev)
	assert.Equal(t, api.ID(), done.UUID)
	require.NotNil(t, done.Result)
	assert.JSONEq(t, `{"sum":3}`, *done.Result)
	assert.True(t, api.DoneToken().IsCancelled())
}

func TestFinishWithoutResult(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	api := NewAPI(uuid.New(), h.stream, h.state, h.tracker)
	api.Finish(nil, nil, "Echo")

	done, ok := h.next().(events.OperationDone)
	require.True(t, ok)
	assert.Nil(t, done.Result)
}

func TestFinishWithError(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	api := NewAPI(uuid.New(), h.stream, h.state, h.tracker)
	api.Finish(nil, errors.NewNative(errors.SeverityWarning, errors.KindGrabber, "grab failed"), "Echo")

	opErr, ok := h.next().(events.OperationError)
	require.True(t, ok)
	assert.Equal(t, errors.KindGrabber, opErr.Error.Kind)
	assert.Equal(t, errors.SeverityWarning, opErr.Error.Severity)
	assert.Equal(t, "grab failed", opErr.Error.Text())
	assert.True(t, api.DoneToken().IsCancelled())
}

func TestFinishWithUnencodableResult(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	api := NewAPI(uuid.New(), h.stream, h.state, h.tracker)
	api.Finish(make(chan int), nil, "Echo")

	opErr, ok := h.next().(events.OperationError)
	require.True(t, ok)
	assert.Equal(t, errors.KindComputationFailed, opErr.Error.Kind)
	assert.Equal(t, errors.SeverityError, opErr.Error.Severity)
	assert.True(t, api.DoneToken().IsCancelled())
}

func TestExecuteRefusesDuplicate(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	release := make(chan struct{})
	blocking := HandlerFunc(func(ctx context.Context, api *API, kind Kind) (any, error) {
		<-release
		return nil, nil
	})

	id := uuid.New()
	first := NewAPI(id, h.stream, h.state, h.tracker)
	require.NoError(t, first.Execute(context.Background(), New(id, stubKind{"Echo"}), blocking))

	second := NewAPI(id, h.stream, h.state, h.tracker)
	err := second.Execute(context.Background(), New(id, stubKind{"Echo"}), blocking)
	var native *errors.NativeError
	require.ErrorAs(t, err, &native)
	assert.Equal(t, errors.KindComputationFailed, native.Kind)
	assert.Equal(t, "Operation "+id.String()+" already exists", native.Text())

	close(release)
	assert.IsType(t, events.OperationStarted{}, h.next())
	assert.IsType(t, events.OperationDone{}, h.next())
}

func TestDispatcherRunsHandler(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	require.NoError(t, h.registry.Register("Echo", HandlerFunc(func(ctx context.Context, api *API, kind Kind) (any, error) {
		api.Processing()
		return kind.Name(), nil
	})))
	h.start()

	id := uuid.New()
	h.requests <- New(id, stubKind{"Echo"})

	assert.Equal(t, events.OperationStarted{UUID: id}, h.next())
	assert.Equal(t, events.OperationProcessing{UUID: id}, h.next())
	done, ok := h.next().(events.OperationDone)
	require.True(t, ok)
	assert.Equal(t, `"Echo"`, *done.Result)

	// Removed from the tracker: the id can be reused.
	require.Eventually(t, func() bool {
		added, err := h.tracker.AddOperation(context.Background(), id, "Echo", nil, nil)
		return err == nil && added
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, h.tracker.RemoveOperation(context.Background(), id))
}

func TestDispatcherUnknownKind(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	id := uuid.New()
	h.requests <- New(id, stubKind{"Unknown"})

	opErr, ok := h.next().(events.OperationError)
	require.True(t, ok)
	assert.Equal(t, id, opErr.UUID)
	assert.Equal(t, errors.KindNotYetImplemented, opErr.Error.Kind)
}

func TestDispatcherRecoversPanic(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	require.NoError(t, h.registry.Register("Boom", HandlerFunc(func(ctx context.Context, api *API, kind Kind) (any, error) {
		panic("boom")
	})))
	h.start()

	id := uuid.New()
	h.requests <- New(id, stubKind{"Boom"})

	assert.Equal(t, events.OperationStarted{UUID: id}, h.next())
	opErr, ok := h.next().(events.OperationError)
	require.True(t, ok)
	assert.Equal(t, errors.KindComputationFailed, opErr.Error.Kind)
	assert.Contains(t, opErr.Error.Text(), "boom")
}

func TestCancelUnknownTarget(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	h.start()

	id, target := uuid.New(), uuid.New()
	h.requests <- New(id, Cancel{Target: target})

	assert.Equal(t, events.OperationStarted{UUID: id}, h.next())
	opErr, ok := h.next().(events.OperationError)
	require.True(t, ok)
	assert.Equal(t, id, opErr.UUID)
	assert.Equal(t, errors.SeverityWarning, opErr.Error.Severity)
	assert.Equal(t, errors.KindIo, opErr.Error.Kind)
	assert.Equal(t, "Fail to cancel operation "+target.String()+"; operation isn't found", opErr.Error.Text())
}

func TestCancelRunningOperation(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	require.NoError(t, h.registry.Register("Wait", HandlerFunc(func(ctx context.Context, api *API, kind Kind) (any, error) {
		<-ctx.Done()
		return nil, nil
	})))
	h.start()

	target, canceler := uuid.New(), uuid.New()
	h.requests <- New(target, stubKind{"Wait"})
	assert.Equal(t, events.OperationStarted{UUID: target}, h.next())

	h.requests <- New(canceler, Cancel{Target: target})

	got := map[string]bool{}
	for i := 0; i < 3; i++ {
		ev := h.next()
		id, _ := events.OperationID(ev)
		got[ev.EventType()+":"+id.String()] = true
	}
	assert.True(t, got[events.OperationStartedEventType+":"+canceler.String()])
	assert.True(t, got[events.OperationDoneEventType+":"+canceler.String()])
	assert.True(t, got[events.OperationDoneEventType+":"+target.String()])

	// The tracker drops the cancelled entry once its done token fires.
	require.Eventually(t, func() bool {
		cancelling, err := h.state.IsCancelling(context.Background(), target)
		return err == nil && !cancelling
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		added, err := h.tracker.AddOperation(context.Background(), target, "Wait", nil, nil)
		return err == nil && added
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, h.tracker.RemoveOperation(context.Background(), target))

	stats, err := h.tracker.GetOperationsStat(context.Background())
	require.NoError(t, err)
	assert.Contains(t, stats, canceler.String())
}

func TestDispatcherStopsOnClosedChannel(t *testing.T) {
	h := newHarness(t)
	h.start()
	close(h.requests)

	require.NoError(t, wait(t, h.dispatched))
	require.NoError(t, wait(t, h.trackDone))
	assert.True(t, h.state.IsClosing())
	require.NoError(t, h.state.Shutdown())
	require.NoError(t, wait(t, h.stateDone))
	h.stream.Close()
}

func TestParseID(t *testing.T) {
	id := uuid.New()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-a-uuid")
	var comp *errors.ComputationError
	require.ErrorAs(t, err, &comp)
	assert.Equal(t, errors.Process, comp.Kind)
	assert.Contains(t, comp.Error(), "Fail to parse operation uuid from not-a-uuid")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := HandlerFunc(func(ctx context.Context, api *API, kind Kind) (any, error) { return nil, nil })

	require.NoError(t, r.Register(SleepName, noop))
	assert.Error(t, r.Register(SleepName, noop))
	assert.Error(t, r.Register(EndName, noop))
	assert.Error(t, r.Register("Nil", nil))
	assert.Equal(t, []string{CancelName, SleepName}, r.Names())

	r.Unregister(SleepName)
	_, err := r.Lookup(SleepName)
	var native *errors.NativeError
	require.ErrorAs(t, err, &native)
	assert.Equal(t, errors.KindNotYetImplemented, native.Kind)

	_, err = r.Lookup(CancelName)
	assert.NoError(t, err)
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "Sleeping", Sleep{}.Name())
	assert.Equal(t, "ExternalLibCall", ExternalLibCall{}.Name())
	assert.Equal(t, "Canceling", Cancel{}.Name())
	assert.Equal(t, "End", End{}.Name())
}

func TestDispatcherRejectsRequestsAfterEnd(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.registry.Register("Echo", HandlerFunc(func(ctx context.Context, api *API, kind Kind) (any, error) {
		return nil, nil
	})))
	late := uuid.New()
	h.requests <- New(uuid.New(), End{})
	h.requests <- New(late, stubKind{"Echo"})
	h.start()

	require.NoError(t, wait(t, h.dispatched))
	opErr, ok := h.next().(events.OperationError)
	require.True(t, ok)
	assert.Equal(t, late, opErr.UUID)
	assert.Equal(t, errors.KindChannelError, opErr.Error.Kind)
	assert.Equal(t, "session is closing", opErr.Error.Text())

	require.NoError(t, wait(t, h.trackDone))
	require.NoError(t, h.state.Shutdown())
	require.NoError(t, wait(t, h.stateDone))
	h.stream.Close()
}
