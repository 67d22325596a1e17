// Package queue implements C5, the single-consumer command queue and
// dispatcher that serializes caller requests onto one debugger session.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
	"github.com/hrygo/dbgtoolsrv/internal/logging"
)

// Executor is the C6 boundary the dispatcher calls into for each
// dequeued command.
type Executor interface {
	Execute(ctx context.Context, id, text string, cancel <-chan struct{}) (string, error)
}

// Classifier exposes just enough of C6's classification function to
// decide whether a command merits a heartbeat companion.
type Classifier interface {
	Classify(text string) float64 // seconds
}

// EventSink receives queue lifecycle notifications (C8 boundary).
type EventSink interface {
	Notify(event string, detail map[string]any)
}

type noopSink struct{}

func (noopSink) Notify(string, map[string]any) {}

// Metrics receives queue depth and dispatch throughput observations
// (telemetry boundary). Optional: a nil Metrics passed to New is
// replaced with a no-op implementation.
type Metrics interface {
	SetQueueDepth(n int)
	RecordDispatch(outcome string, elapsed time.Duration)
	RecordTimeout()
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(int)                   {}
func (noopMetrics) RecordDispatch(string, time.Duration) {}
func (noopMetrics) RecordTimeout()                       {}

// Options configures retention, heartbeat, and admission control.
type Options struct {
	RetentionWindow   time.Duration
	RetentionInterval time.Duration
	HeartbeatInterval time.Duration
	HeartbeatFloor    time.Duration // only commands classified above this get a heartbeat companion
	EnqueueRateLimit  float64
	EnqueueBurst      int
	QueueCapacity     int
}

// Manager is C5: the blocking single-consumer queue plus the
// active-commands map and its background retention timer.
type Manager struct {
	executor   Executor
	classifier Classifier
	sink       EventSink
	metrics    Metrics
	opts       Options
	log        *logging.Logger

	limiter *rate.Limiter

	mu       sync.RWMutex
	active   map[string]*Command
	order    []string // FIFO order for queue-position reporting
	current  *Command
	pending  chan *Command
	stopCh   chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group
}

// New builds a Manager. executor and classifier must not be nil;
// sink and metrics may be nil (events/observations are dropped).
func New(executor Executor, classifier Classifier, sink EventSink, opts Options, metrics Metrics, log *logging.Logger) *Manager {
	if sink == nil {
		sink = noopSink{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = logging.Default()
	}
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = 30 * time.Minute
	}
	if opts.RetentionInterval <= 0 {
		opts.RetentionInterval = time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HeartbeatFloor <= 0 {
		opts.HeartbeatFloor = 30 * time.Second
	}
	if opts.EnqueueRateLimit <= 0 {
		opts.EnqueueRateLimit = 50
	}
	if opts.EnqueueBurst <= 0 {
		opts.EnqueueBurst = 100
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}

	m := &Manager{
		executor:   executor,
		classifier: classifier,
		sink:       sink,
		metrics:    metrics,
		opts:       opts,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(opts.EnqueueRateLimit), opts.EnqueueBurst),
		active:     make(map[string]*Command),
		pending:    make(chan *Command, opts.QueueCapacity),
		stopCh:     make(chan struct{}),
	}

	eg, ctx := errgroup.WithContext(context.Background())
	m.group = eg
	eg.Go(func() error {
		m.dispatcherLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		m.retentionLoop()
		return nil
	})

	return m
}

// Enqueue allocates an id, registers the command, and pushes it onto
// the blocking queue. Admission is gated by a token-bucket limiter —
// backpressure only, never a fairness mechanism: FIFO order among
// admitted commands is untouched.
func (m *Manager) Enqueue(ctx context.Context, text string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", dbgerrors.Wrap(dbgerrors.KindInvalidInput, err, "enqueue admission rate limit")
	}

	cmd := newCommand(shortuuid.New(), text)

	m.mu.Lock()
	m.active[cmd.ID] = cmd
	m.order = append(m.order, cmd.ID)
	m.mu.Unlock()

	select {
	case m.pending <- cmd:
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.active, cmd.ID)
		m.mu.Unlock()
		return "", dbgerrors.Wrap(dbgerrors.KindInvalidInput, ctx.Err(), "enqueue cancelled before admission")
	}

	m.sink.Notify("queued", map[string]any{"id": cmd.ID})
	m.updateQueueDepth()
	return cmd.ID, nil
}

// updateQueueDepth reports the number of commands currently queued or
// executing, excluding anything already terminal but still retained
// for GetResult/audit lookups.
func (m *Manager) updateQueueDepth() {
	m.mu.RLock()
	n := 0
	for _, id := range m.order {
		if cmd, ok := m.active[id]; ok {
			switch cmd.State() {
			case StateQueued, StateExecuting:
				n++
			}
		}
	}
	m.mu.RUnlock()
	m.metrics.SetQueueDepth(n)
}

func (m *Manager) dispatcherLoop(ctx context.Context) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case cmd, ok := <-m.pending:
			if !ok {
				return
			}
			m.dispatchOne(ctx, cmd)
		}
	}
}

func (m *Manager) dispatchOne(ctx context.Context, cmd *Command) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("dispatcher recovered from panic executing command", "id", cmd.ID, "panic", r)
			cmd.finish(StateFailed, "", dbgerrors.New(dbgerrors.KindFatal, "internal dispatcher panic"))
		}
	}()

	cmd.mu.Lock()
	if cmd.state == StateCancelled {
		cmd.mu.Unlock()
		return
	}
	cmd.transitionLocked(StateExecuting)
	cmd.StartedAt = time.Now()
	cmd.mu.Unlock()

	m.mu.Lock()
	m.current = cmd
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
	}()

	stopHeartbeat := m.maybeStartHeartbeat(cmd)
	defer stopHeartbeat()

	result, err := m.executor.Execute(ctx, cmd.ID, cmd.Text, cmd.cancelCh)

	switch {
	case err == nil:
		cmd.finish(StateCompleted, result, nil)
		m.metrics.RecordDispatch("completed", cmd.Elapsed())
		m.sink.Notify("completed", map[string]any{"id": cmd.ID, "elapsed": cmd.Elapsed()})
	case dbgerrors.Is(err, dbgerrors.KindCancelled):
		cmd.finish(StateCancelled, result, err)
		m.metrics.RecordDispatch("cancelled", cmd.Elapsed())
		m.sink.Notify("cancelled", map[string]any{"id": cmd.ID})
	case dbgerrors.Is(err, dbgerrors.KindTimeout):
		cmd.finish(StateFailed, err.Error(), err)
		m.metrics.RecordTimeout()
		m.metrics.RecordDispatch("timeout", cmd.Elapsed())
		m.sink.Notify("failed", map[string]any{"id": cmd.ID, "error": err.Error()})
	default:
		cmd.finish(StateFailed, err.Error(), err)
		m.metrics.RecordDispatch("failed", cmd.Elapsed())
		m.sink.Notify("failed", map[string]any{"id": cmd.ID, "error": err.Error()})
	}
	m.updateQueueDepth()
}

func (m *Manager) maybeStartHeartbeat(cmd *Command) func() {
	classified := time.Duration(m.classifier.Classify(cmd.Text) * float64(time.Second))
	if classified <= m.opts.HeartbeatFloor {
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(m.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-cmd.doneCh:
				return
			case <-ticker.C:
				m.sink.Notify("heartbeat", map[string]any{
					"id":      cmd.ID,
					"elapsed": cmd.Elapsed(),
					"details": "awaiting debugger prompt",
				})
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

// Cancel signals cmd.ID's cancel channel. Returns whether id was found
// and signalled; an already-terminal command is returned unchanged.
func (m *Manager) Cancel(id, reason string) bool {
	m.mu.RLock()
	cmd, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	cmd.mu.Lock()
	if cmd.state == StateCompleted || cmd.state == StateFailed || cmd.state == StateCancelled {
		cmd.mu.Unlock()
		return false
	}
	wasQueued := cmd.state == StateQueued
	if wasQueued {
		// Finish inline under the same lock that flips the state, so the
		// dispatcher can never start it; finish() would see the terminal
		// state and skip closing doneCh.
		cmd.transitionLocked(StateCancelled)
		cmd.err = dbgerrors.New(dbgerrors.KindCancelled, "cancelled: "+reason)
		cmd.EndedAt = time.Now()
	}
	cmd.mu.Unlock()

	select {
	case <-cmd.cancelCh:
	default:
		close(cmd.cancelCh)
	}

	if wasQueued {
		close(cmd.doneCh)
	}

	m.sink.Notify("cancel-requested", map[string]any{"id": id, "reason": reason})
	m.updateQueueDepth()
	return true
}

// CancelAll cancels every non-terminal command in a snapshot of the
// active map, returning the number successfully signalled.
func (m *Manager) CancelAll(reason string) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if m.Cancel(id, reason) {
			count++
		}
	}
	return count
}

// Status returns the snapshot spec §4.5 defines.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.RLock()
	cmd, ok := m.active[id]
	if !ok {
		m.mu.RUnlock()
		return Status{}, false
	}
	pos := m.queuePositionLocked(id)
	m.mu.RUnlock()

	return Status{
		ID:            cmd.ID,
		Text:          cmd.Text,
		State:         cmd.State(),
		QueuedAt:      cmd.QueuedAt,
		Elapsed:       cmd.Elapsed(),
		QueuePosition: pos,
		IsCompleted:   cmd.IsCompleted(),
	}, true
}

// queuePositionLocked must be called with m.mu held for reading.
func (m *Manager) queuePositionLocked(id string) int {
	cmd, ok := m.active[id]
	if !ok || cmd.State() != StateQueued {
		return -1
	}
	pos := 0
	for _, oid := range m.order {
		other, ok := m.active[oid]
		if !ok {
			continue
		}
		if other.State() != StateQueued {
			continue
		}
		if oid == id {
			return pos
		}
		pos++
	}
	return -1
}

// ListEntry is one row of List()'s snapshot.
type ListEntry struct {
	ID       string
	Text     string
	State    State
	Elapsed  time.Duration
	Position int
}

// List returns a snapshot of the currently-executing command (if any)
// and all queued entries with their wait times.
func (m *Manager) List() (executing *ListEntry, queued []ListEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current != nil {
		executing = &ListEntry{
			ID: m.current.ID, Text: m.current.Text, State: m.current.State(),
			Elapsed: m.current.Elapsed(), Position: -1,
		}
	}

	pos := 0
	for _, id := range m.order {
		cmd, ok := m.active[id]
		if !ok || cmd.State() != StateQueued {
			continue
		}
		queued = append(queued, ListEntry{ID: cmd.ID, Text: cmd.Text, State: cmd.State(), Elapsed: cmd.Elapsed(), Position: pos})
		pos++
	}
	return executing, queued
}

// GetResult blocks until id's command reaches a terminal state (or
// ctx is done) and returns its result text / error. Safe to call
// repeatedly, including after the command has already finished.
func (m *Manager) GetResult(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	cmd, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return "", dbgerrors.New(dbgerrors.KindInvalidInput, "unknown command id "+id)
	}

	select {
	case <-cmd.doneCh:
	case <-ctx.Done():
		return "", dbgerrors.Wrap(dbgerrors.KindCancelled, ctx.Err(), "get-result cancelled while waiting")
	}

	result, err := cmd.Result()
	return result, err
}

func (m *Manager) retentionLoop() {
	ticker := time.NewTicker(m.opts.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	cutoff := time.Now().Add(-m.opts.RetentionWindow)

	m.mu.Lock()
	defer m.mu.Unlock()

	survivors := m.order[:0:0]
	for _, id := range m.order {
		cmd, ok := m.active[id]
		if !ok {
			continue
		}
		if cmd.IsCompleted() && cmd.QueuedAt.Before(cutoff) {
			delete(m.active, id)
			continue
		}
		survivors = append(survivors, id)
	}
	m.order = survivors
}

// Shutdown stops the dispatcher and retention loops.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	_ = m.group.Wait()
}
