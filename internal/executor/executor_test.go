package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
)

type fakeSession struct {
	fn func(ctx context.Context, text string, cancel <-chan struct{}) (string, error)
}

func (f fakeSession) Execute(ctx context.Context, text string, cancel <-chan struct{}) (string, error) {
	return f.fn(ctx, text, cancel)
}

type fakeTimeouts struct {
	mu      sync.Mutex
	started map[string]func(string)
	cancels int
}

func newFakeTimeouts() *fakeTimeouts { return &fakeTimeouts{started: make(map[string]func(string))} }

func (f *fakeTimeouts) Start(id string, _ time.Duration, cb func(id string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[id] = cb
	return nil
}

func (f *fakeTimeouts) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, id)
	f.cancels++
}

func (f *fakeTimeouts) fire(id string) {
	f.mu.Lock()
	cb := f.started[id]
	f.mu.Unlock()
	if cb != nil {
		cb(id)
	}
}

type constClassifier struct{ seconds float64 }

func (c constClassifier) Classify(string) float64 { return c.seconds }

type fakeRecoverer struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRecoverer) Recover(context.Context, string) bool {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return true
}

func (r *fakeRecoverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestExecuteSuccessCancelsTimeoutAndSkipsRecovery(t *testing.T) {
	session := fakeSession{fn: func(_ context.Context, text string, _ <-chan struct{}) (string, error) {
		return "ok:" + text, nil
	}}
	timeouts := newFakeTimeouts()
	rec := &fakeRecoverer{}

	e := New(session, timeouts, constClassifier{seconds: 5}, rec, nil)
	result, err := e.Execute(context.Background(), "id1", "version", make(chan struct{}))

	require.NoError(t, err)
	require.Equal(t, "ok:version", result)
	require.Equal(t, 1, timeouts.cancels)
	require.Equal(t, 0, rec.count())
}

func TestExecuteExternalCancelDoesNotTriggerRecovery(t *testing.T) {
	cancel := make(chan struct{})
	session := fakeSession{fn: func(_ context.Context, _ string, c <-chan struct{}) (string, error) {
		<-c
		return "", dbgerrors.New(dbgerrors.KindCancelled, "cancelled")
	}}
	timeouts := newFakeTimeouts()
	rec := &fakeRecoverer{}

	e := New(session, timeouts, constClassifier{seconds: 5}, rec, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(cancel)
	}()

	_, err := e.Execute(context.Background(), "id2", "g", cancel)
	require.Error(t, err)
	require.True(t, dbgerrors.Is(err, dbgerrors.KindCancelled))
	require.Equal(t, 0, rec.count())
}

func TestClassifiedTimeoutFiresRecoveryAndReturnsTimeoutKind(t *testing.T) {
	session := fakeSession{fn: func(ctx context.Context, _ string, _ <-chan struct{}) (string, error) {
		<-ctx.Done()
		return "", dbgerrors.Wrap(dbgerrors.KindIOFailure, ctx.Err(), "debugger stdout read interrupted")
	}}
	timeouts := newFakeTimeouts()
	rec := &fakeRecoverer{}

	e := New(session, timeouts, constClassifier{seconds: 0.02}, rec, nil)

	_, err := e.Execute(context.Background(), "id3", "!analyze -v", make(chan struct{}))
	require.Error(t, err)
	require.True(t, dbgerrors.Is(err, dbgerrors.KindTimeout))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
}

func TestRecoveryNotTriggeredForPlainFailureUnrelatedToSession(t *testing.T) {
	session := fakeSession{fn: func(_ context.Context, _ string, _ <-chan struct{}) (string, error) {
		return "", dbgerrors.New(dbgerrors.KindInvalidInput, "bad syntax")
	}}
	timeouts := newFakeTimeouts()
	rec := &fakeRecoverer{}

	e := New(session, timeouts, constClassifier{seconds: 5}, rec, nil)
	_, err := e.Execute(context.Background(), "id4", "???", make(chan struct{}))

	require.Error(t, err)
	require.Equal(t, 0, rec.count())
}

func TestNilRecovererIsSafe(t *testing.T) {
	session := fakeSession{fn: func(ctx context.Context, _ string, _ <-chan struct{}) (string, error) {
		<-ctx.Done()
		return "", dbgerrors.Wrap(dbgerrors.KindIOFailure, ctx.Err(), "session read timed out")
	}}
	timeouts := newFakeTimeouts()

	e := New(session, timeouts, constClassifier{seconds: 0.02}, nil, nil)
	_, err := e.Execute(context.Background(), "id5", "!analyze", make(chan struct{}))
	require.Error(t, err)
}
