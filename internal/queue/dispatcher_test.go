package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
)

type scriptedExecutor struct {
	mu      sync.Mutex
	results map[string]func(cancel <-chan struct{}) (string, error)
	calls   int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{results: make(map[string]func(<-chan struct{}) (string, error))}
}

func (e *scriptedExecutor) on(text string, fn func(cancel <-chan struct{}) (string, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[text] = fn
}

func (e *scriptedExecutor) Execute(_ context.Context, _ string, text string, cancel <-chan struct{}) (string, error) {
	e.mu.Lock()
	e.calls++
	fn, ok := e.results[text]
	e.mu.Unlock()
	if !ok {
		return "ok:" + text, nil
	}
	return fn(cancel)
}

type constClassifier struct{ seconds float64 }

func (c constClassifier) Classify(string) float64 { return c.seconds }

func testManager(t *testing.T, exec Executor, classifier Classifier) *Manager {
	t.Helper()
	m := New(exec, classifier, nil, Options{
		RetentionWindow:   time.Hour,
		RetentionInterval: time.Hour,
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatFloor:    0, // falls back to the 30s default floor; 90s-classified commands still get a heartbeat
		EnqueueRateLimit:  1000,
		EnqueueBurst:      1000,
	}, nil, nil)
	t.Cleanup(m.Shutdown)
	return m
}

func TestEnqueueAndGetResultSuccess(t *testing.T) {
	m := testManager(t, newScriptedExecutor(), constClassifier{seconds: 90})

	id, err := m.Enqueue(context.Background(), "version")
	require.NoError(t, err)

	result, err := m.GetResult(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "ok:version", result)
}

func TestGetResultUnknownIDFails(t *testing.T) {
	m := testManager(t, newScriptedExecutor(), constClassifier{seconds: 90})
	_, err := m.GetResult(context.Background(), "nope")
	require.Error(t, err)
}

func TestGetResultIsSafeToCallRepeatedly(t *testing.T) {
	m := testManager(t, newScriptedExecutor(), constClassifier{seconds: 90})
	id, err := m.Enqueue(context.Background(), "version")
	require.NoError(t, err)

	r1, err1 := m.GetResult(context.Background(), id)
	r2, err2 := m.GetResult(context.Background(), id)
	require.Equal(t, r1, r2)
	require.Equal(t, err1, err2)
}

func TestCancelQueuedCommandNeverDispatches(t *testing.T) {
	exec := newScriptedExecutor()
	blockCh := make(chan struct{})
	exec.on("blocker", func(cancel <-chan struct{}) (string, error) {
		<-blockCh
		return "unblocked", nil
	})

	m := testManager(t, exec, constClassifier{seconds: 90})

	blockerID, err := m.Enqueue(context.Background(), "blocker")
	require.NoError(t, err)

	queuedID, err := m.Enqueue(context.Background(), "queued-victim")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := m.Status(blockerID)
		return s.State == StateExecuting
	}, time.Second, time.Millisecond)

	require.True(t, m.Cancel(queuedID, "test"))

	close(blockCh)
	_, err = m.GetResult(context.Background(), blockerID)
	require.NoError(t, err)

	status, ok := m.Status(queuedID)
	require.True(t, ok)
	require.Equal(t, StateCancelled, status.State)
	require.Equal(t, 1, exec.calls)
}

func TestCancelExecutingCommandSignalsCancelChannel(t *testing.T) {
	exec := newScriptedExecutor()
	started := make(chan struct{})
	exec.on("spin", func(cancel <-chan struct{}) (string, error) {
		close(started)
		<-cancel
		return "", dbgerrors.New(dbgerrors.KindCancelled, "cancelled")
	})

	m := testManager(t, exec, constClassifier{seconds: 90})
	id, err := m.Enqueue(context.Background(), "spin")
	require.NoError(t, err)

	<-started
	require.True(t, m.Cancel(id, "stop it"))

	_, err = m.GetResult(context.Background(), id)
	require.Error(t, err)
	status, _ := m.Status(id)
	require.Equal(t, StateCancelled, status.State)
}

func TestCancelAllSignalsEverySnapshotEntry(t *testing.T) {
	exec := newScriptedExecutor()
	blockCh := make(chan struct{})
	exec.on("blocker", func(cancel <-chan struct{}) (string, error) {
		<-blockCh
		return "done", nil
	})

	m := testManager(t, exec, constClassifier{seconds: 90})
	blockerID, _ := m.Enqueue(context.Background(), "blocker")
	q1, _ := m.Enqueue(context.Background(), "q1")
	q2, _ := m.Enqueue(context.Background(), "q2")

	require.Eventually(t, func() bool {
		s, _ := m.Status(blockerID)
		return s.State == StateExecuting
	}, time.Second, time.Millisecond)

	n := m.CancelAll("shutdown")
	require.GreaterOrEqual(t, n, 2)

	close(blockCh)
	_, _ = m.GetResult(context.Background(), blockerID)

	s1, _ := m.Status(q1)
	s2, _ := m.Status(q2)
	require.Equal(t, StateCancelled, s1.State)
	require.Equal(t, StateCancelled, s2.State)
}

func TestListReportsExecutingAndQueued(t *testing.T) {
	exec := newScriptedExecutor()
	blockCh := make(chan struct{})
	exec.on("blocker", func(cancel <-chan struct{}) (string, error) {
		<-blockCh
		return "done", nil
	})

	m := testManager(t, exec, constClassifier{seconds: 90})
	blockerID, _ := m.Enqueue(context.Background(), "blocker")
	_, _ = m.Enqueue(context.Background(), "q1")

	require.Eventually(t, func() bool {
		s, _ := m.Status(blockerID)
		return s.State == StateExecuting
	}, time.Second, time.Millisecond)

	executing, queued := m.List()
	require.NotNil(t, executing)
	require.Equal(t, blockerID, executing.ID)
	require.Len(t, queued, 1)

	close(blockCh)
}

func TestHeartbeatEmittedForLongClassifiedCommand(t *testing.T) {
	exec := newScriptedExecutor()
	blockCh := make(chan struct{})
	exec.on("slow", func(cancel <-chan struct{}) (string, error) {
		<-blockCh
		return "done", nil
	})

	var mu sync.Mutex
	var heartbeats int
	sink := sinkFunc(func(event string, _ map[string]any) {
		if event == "heartbeat" {
			mu.Lock()
			heartbeats++
			mu.Unlock()
		}
	})

	m := New(exec, constClassifier{seconds: 90}, sink, Options{
		RetentionWindow: time.Hour, RetentionInterval: time.Hour,
		HeartbeatInterval: 5 * time.Millisecond, HeartbeatFloor: time.Millisecond,
		EnqueueRateLimit: 1000, EnqueueBurst: 1000,
	}, nil, nil)
	t.Cleanup(m.Shutdown)

	_, err := m.Enqueue(context.Background(), "slow")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return heartbeats > 0
	}, time.Second, time.Millisecond)

	close(blockCh)
}

type sinkFunc func(event string, detail map[string]any)

func (f sinkFunc) Notify(event string, detail map[string]any) { f(event, detail) }

type recordingMetrics struct {
	mu         sync.Mutex
	depths     []int
	dispatches []string
	timeouts   int
}

func (m *recordingMetrics) SetQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, n)
}

func (m *recordingMetrics) RecordDispatch(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, outcome)
}

func (m *recordingMetrics) RecordTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func TestMetricsRecordDispatchOutcomeAndTimeout(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("bad", func(<-chan struct{}) (string, error) {
		return "", dbgerrors.New(dbgerrors.KindTimeout, "deadline exceeded")
	})

	metrics := &recordingMetrics{}
	m := New(exec, constClassifier{seconds: 1}, nil, Options{
		RetentionWindow: time.Hour, RetentionInterval: time.Hour,
		HeartbeatInterval: time.Hour, EnqueueRateLimit: 1000, EnqueueBurst: 1000,
	}, metrics, nil)
	t.Cleanup(m.Shutdown)

	id, err := m.Enqueue(context.Background(), "bad")
	require.NoError(t, err)
	_, _ = m.GetResult(context.Background(), id)

	require.Eventually(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return metrics.timeouts == 1 && len(metrics.dispatches) > 0
	}, time.Second, time.Millisecond)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Contains(t, metrics.dispatches, "timeout")
	require.NotEmpty(t, metrics.depths)
}
