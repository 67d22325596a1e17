// Package timeoutmgr implements C2: per-command timers with start/cancel/
// extend semantics and a fire-once callback, per spec §4.2.
package timeoutmgr

import (
	"sync"
	"time"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
)

// Callback is invoked (on its own goroutine) when a timeout fires without
// being cancelled or extended away first.
type Callback func(id string)

type entry struct {
	id        string
	callback  Callback
	startedAt time.Time
	cancelCh  chan struct{}
	fired     bool
}

// Manager tracks one timer per command id. Zero value is not usable; use
// New.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a ready-to-use Manager.
func New() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Start registers a new timeout for id, cancelling any prior entry for the
// same id first. The waiter fires callback(id) after duration unless
// Cancel or Extend supersede it first.
func (m *Manager) Start(id string, duration time.Duration, callback Callback) error {
	if id == "" {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "timeout id must not be empty")
	}
	if duration < 0 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "timeout duration must not be negative")
	}
	if callback == nil {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "timeout callback must not be nil")
	}

	m.mu.Lock()
	m.cancelLocked(id)
	e := &entry{id: id, callback: callback, startedAt: time.Now(), cancelCh: make(chan struct{})}
	m.entries[id] = e
	m.mu.Unlock()

	go m.wait(e, duration)
	return nil
}

// Cancel removes and cancels the entry for id, if present. Safe if absent.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked(id)
}

// cancelLocked must be called with m.mu held.
func (m *Manager) cancelLocked(id string) {
	if e, ok := m.entries[id]; ok {
		close(e.cancelCh)
		delete(m.entries, id)
	}
}

// Extend replaces the current entry for id with a fresh waiter that sleeps
// additional, counted from this call, before firing, preserving the
// ORIGINAL callback and the ORIGINAL startedAt. The prior waiter is
// cancelled, so the deadline becomes now+additional: a 50ms timeout
// extended by 40ms after 30ms fires about 70ms after Start.
func (m *Manager) Extend(id string, additional time.Duration) error {
	if id == "" {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "timeout id must not be empty")
	}
	if additional < 0 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "timeout extension must not be negative")
	}

	m.mu.Lock()
	prior, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return dbgerrors.New(dbgerrors.KindInvalidInput, "no timeout entry for id "+id)
	}
	// Cancel the prior waiter's channel, but disposal of it is implicit:
	// the prior goroutine's own select observes the close and returns
	// without firing, avoiding any race with the new waiter.
	close(prior.cancelCh)
	delete(m.entries, id)

	next := &entry{id: id, callback: prior.callback, startedAt: prior.startedAt, cancelCh: make(chan struct{})}
	m.entries[id] = next
	m.mu.Unlock()

	go m.wait(next, additional)
	return nil
}

func (m *Manager) wait(e *entry, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-e.cancelCh:
		return
	case <-timer.C:
	}

	m.mu.Lock()
	current, ok := m.entries[e.id]
	if !ok || current != e {
		// Superseded by Cancel/Extend between timer fire and lock acquisition.
		m.mu.Unlock()
		return
	}
	delete(m.entries, e.id)
	e.fired = true
	m.mu.Unlock()

	e.callback(e.id)
}

// Dispose cancels and forgets all entries.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.entries {
		m.cancelLocked(id)
	}
}

// Len reports the number of live entries (test/observability helper).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
