package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"conductor/core/errors"
	"conductor/core/events"
	"conductor/core/handlers/extcall"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	list   []events.CallbackEvent
	closed chan struct{}
}

func record(ch <-chan events.CallbackEvent) *recorder {
	r := &recorder{closed: make(chan struct{})}
	go func() {
		defer close(r.closed)
		for ev := range ch {
			r.mu.Lock()
			r.list = append(r.list, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) snapshot() []events.CallbackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.CallbackEvent(nil), r.list...)
}

func (r *recorder) waitFor(t *testing.T, match func(events.CallbackEvent) bool) events.CallbackEvent {
	t.Helper()
	var found events.CallbackEvent
	require.Eventually(t, func() bool {
		for _, ev := range r.snapshot() {
			if match(ev) {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

func (r *recorder) all(t *testing.T) []events.CallbackEvent {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream was not closed")
	}
	return r.snapshot()
}

func is[T events.CallbackEvent](id uuid.UUID) func(events.CallbackEvent) bool {
	return func(ev events.CallbackEvent) bool {
		if _, ok := ev.(T); !ok {
			return false
		}
		evID, _ := events.OperationID(ev)
		return evID == id
	}
}

func start(t *testing.T, opts ...Option) (*Session, *recorder) {
	t.Helper()
	s, ch, err := New(context.Background(), uuid.New(), opts...)
	require.NoError(t, err)
	return s, record(ch)
}

func stop(t *testing.T, s *Session, r *recorder) []events.CallbackEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx, uuid.New()))
	return r.all(t)
}

func requireDestroyedLast(t *testing.T, list []events.CallbackEvent) {
	t.Helper()
	require.NotEmpty(t, list)
	assert.Equal(t, events.SessionDestroyed{}, list[len(list)-1])
	count := 0
	for _, ev := range list {
		if _, ok := ev.(events.SessionDestroyed); ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "SessionDestroyed must be emitted once")
}

func countType[T events.CallbackEvent](list []events.CallbackEvent) int {
	n := 0
	for _, ev := range list {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func TestSleepRunsToCompletion(t *testing.T) {
	s, r := start(t)
	id := uuid.New()
	require.NoError(t, s.Sleep(id, 10))
	r.waitFor(t, is[events.OperationDone](id))

	list := stop(t, s, r)
	requireDestroyedLast(t, list)
	assert.Equal(t, []events.CallbackEvent{
		events.OperationStarted{UUID: id},
		events.OperationProcessing{UUID: id},
		events.OperationDone{UUID: id},
	}, list[:3])
	assert.Zero(t, countType[events.SessionError](list))
}

func TestCancelDuringSleep(t *testing.T) {
	s, r := start(t)
	target, canceler := uuid.New(), uuid.New()

	require.NoError(t, s.Sleep(target, 10_000))
	r.waitFor(t, is[events.OperationProcessing](target))

	started := time.Now()
	require.NoError(t, s.Abort(canceler, target))
	r.waitFor(t, is[events.OperationDone](canceler))
	done := r.waitFor(t, is[events.OperationDone](target)).(events.OperationDone)
	assert.Nil(t, done.Result)
	assert.Less(t, time.Since(started), 5*time.Second)

	list := stop(t, s, r)
	requireDestroyedLast(t, list)
	assert.Zero(t, countType[events.OperationError](list))
}

func TestAbortUnknownTarget(t *testing.T) {
	s, r := start(t)
	canceler, target := uuid.New(), uuid.New()

	require.NoError(t, s.Abort(canceler, target))
	opErr := r.waitFor(t, is[events.OperationError](canceler)).(events.OperationError)
	assert.Equal(t, errors.SeverityWarning, opErr.Error.Severity)
	assert.Equal(t, errors.KindIo, opErr.Error.Kind)
	assert.Equal(t, fmt.Sprintf("Fail to cancel operation %s; operation isn't found", target), opErr.Error.Text())

	requireDestroyedLast(t, stop(t, s, r))
}

func TestDuplicateOperationID(t *testing.T) {
	s, r := start(t)
	id := uuid.New()

	require.NoError(t, s.Sleep(id, 10_000))
	r.waitFor(t, is[events.OperationProcessing](id))
	require.NoError(t, s.Sleep(id, 10_000))

	opErr := r.waitFor(t, is[events.OperationError](id)).(events.OperationError)
	assert.Equal(t, errors.KindComputationFailed, opErr.Error.Kind)
	assert.Equal(t, fmt.Sprintf("Operation %s already exists", id), opErr.Error.Text())

	// Stop cancels the running sleep.
	list := stop(t, s, r)
	requireDestroyedLast(t, list)
	assert.Equal(t, 1, countType[events.OperationDone](list))
}

func TestStopCancelsRunningOperations(t *testing.T) {
	s, r := start(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, s.Sleep(id, 60_000))
	}
	for _, id := range ids {
		r.waitFor(t, is[events.OperationProcessing](id))
	}

	list := stop(t, s, r)
	requireDestroyedLast(t, list)
	for _, id := range ids {
		assert.True(t, containsEvent(list, is[events.OperationDone](id)))
	}
}

func containsEvent(list []events.CallbackEvent, match func(events.CallbackEvent) bool) bool {
	for _, ev := range list {
		if match(ev) {
			return true
		}
	}
	return false
}

func TestOperationsStat(t *testing.T) {
	s, r := start(t)
	ctx := context.Background()

	finished, running := uuid.New(), uuid.New()
	require.NoError(t, s.Sleep(finished, 1))
	r.waitFor(t, is[events.OperationDone](finished))
	require.NoError(t, s.Sleep(running, 60_000))
	r.waitFor(t, is[events.OperationProcessing](running))

	raw, err := s.GetOperationsStat(ctx)
	require.NoError(t, err)

	var stats []struct {
		UUID     string `json:"uuid"`
		Name     string `json:"name"`
		Started  uint64 `json:"started"`
		Duration uint64 `json:"duration"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, finished.String(), stats[0].UUID)
	assert.Equal(t, "Sleeping", stats[0].Name)
	assert.NotZero(t, stats[0].Started)
	assert.Equal(t, running.String(), stats[1].UUID)
	assert.Zero(t, stats[1].Duration)

	requireDestroyedLast(t, stop(t, s, r))
}

func TestDebugMode(t *testing.T) {
	s, r := start(t, WithDebug(true))
	ctx := context.Background()

	debug, err := s.GetDebug(ctx)
	require.NoError(t, err)
	assert.True(t, debug)

	require.NoError(t, s.SetDebug(ctx, false))
	debug, err = s.GetDebug(ctx)
	require.NoError(t, err)
	assert.False(t, debug)

	requireDestroyedLast(t, stop(t, s, r))
}

func testLoopFailure(t *testing.T, trigger func(*Session) error) {
	s, r := start(t)
	id := uuid.New()
	require.NoError(t, s.Sleep(id, 10))
	r.waitFor(t, is[events.OperationDone](id))

	require.NoError(t, trigger(s))
	list := r.all(t)

	require.GreaterOrEqual(t, len(list), 2)
	requireDestroyedLast(t, list)
	sessionErr, ok := list[len(list)-2].(events.SessionError)
	require.True(t, ok, "SessionError must precede SessionDestroyed, got %v", list[len(list)-2])
	assert.Equal(t, errors.KindIo, sessionErr.Error.Kind)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session is not destroyed")
	}

	err := s.Sleep(uuid.New(), 1)
	var comp *errors.ComputationError
	require.ErrorAs(t, err, &comp)
	assert.Equal(t, errors.Communication, comp.Kind)

	// Stop on a destroyed session returns at once.
	assert.NoError(t, s.Stop(context.Background(), uuid.New()))
}

func TestStateFailureDestroysSession(t *testing.T) {
	testLoopFailure(t, (*Session).TriggerStateError)
}

func TestTrackerFailureDestroysSession(t *testing.T) {
	testLoopFailure(t, (*Session).TriggerTrackerError)
}

func TestContextCancelEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, ch, err := New(ctx, uuid.New())
	require.NoError(t, err)
	r := record(ch)

	cancel()
	list := r.all(t)
	requireDestroyedLast(t, list)
	assert.Zero(t, countType[events.SessionError](list))
	<-s.Done()
}

type fakeLibrary map[string]any

func (l fakeLibrary) Lookup(name string) (any, error) {
	sym, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", name)
	}
	return sym, nil
}

type fakeLoader struct{ lib fakeLibrary }

func (l fakeLoader) Open(string) (extcall.Library, error) { return l.lib, nil }

func TestExternalLibCall(t *testing.T) {
	lib := fakeLibrary{
		extcall.SumSymbol: func(a, b uint64) uint64 { return a + b },
		extcall.FindSymbol: func(lines []string, target string) (string, bool) {
			for _, line := range lines {
				if strings.Contains(line, target) {
					return line, true
				}
			}
			return "", false
		},
	}
	s, r := start(t, WithLoader(fakeLoader{lib: lib}))
	id := uuid.New()

	require.NoError(t, s.ExternalLibCall(id, "textops.so", 40, 2, []string{"one", "two"}))
	done := r.waitFor(t, is[events.OperationDone](id)).(events.OperationDone)
	require.NotNil(t, done.Result)
	assert.JSONEq(t, `{"sum":42,"found":"two"}`, *done.Result)

	requireDestroyedLast(t, stop(t, s, r))
}

func TestExternalLibCallMissingLibrary(t *testing.T) {
	s, r := start(t)
	id := uuid.New()

	require.NoError(t, s.ExternalLibCall(id, filepath.Join(t.TempDir(), "missing.so"), 1, 2, nil))
	opErr := r.waitFor(t, is[events.OperationError](id)).(events.OperationError)
	assert.Equal(t, errors.KindComputationFailed, opErr.Error.Kind)
	assert.True(t, strings.HasPrefix(opErr.Error.Text(), "Fail to load lib: "))

	requireDestroyedLast(t, stop(t, s, r))
}

func TestInvalidVersionConstraint(t *testing.T) {
	_, _, err := New(context.Background(), uuid.New(), func(o *options) { o.versionConstraint = "nope" })
	assert.Error(t, err)
}

func TestRequestsAfterEndAreRefused(t *testing.T) {
	s, r := start(t)
	s.end(uuid.New())

	late := uuid.New()
	err := s.Sleep(late, 1)
	var comp *errors.ComputationError
	require.ErrorAs(t, err, &comp)
	assert.Equal(t, errors.Communication, comp.Kind)
	assert.Contains(t, comp.Error(), "session is closing")

	require.Error(t, s.Abort(uuid.New(), late))

	list := stop(t, s, r)
	requireDestroyedLast(t, list)
	for _, ev := range list {
		id, ok := events.OperationID(ev)
		assert.False(t, ok && id == late, "unexpected event for a refused operation: %v", ev)
	}
}

func TestSubmitDoesNotBlockOnFullMailbox(t *testing.T) {
	s, r := start(t, WithMailboxSize(1))

	ids := make([]uuid.UUID, 32)
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i := range ids {
			ids[i] = uuid.New()
			assert.NoError(t, s.Sleep(ids[i], 1))
		}
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("submission blocked")
	}

	for _, id := range ids {
		r.waitFor(t, is[events.OperationDone](id))
	}
	requireDestroyedLast(t, stop(t, s, r))
}
