package queue

import (
	"sync"
	"time"
)

// State is a Command's position in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Command is one submitted debugger command and its bookkeeping.
type Command struct {
	ID        string
	Text      string
	QueuedAt  time.Time
	StartedAt time.Time
	EndedAt   time.Time

	mu     sync.Mutex
	state  State
	result string
	err    error

	cancelCh chan struct{}
	doneCh   chan struct{}
}

func newCommand(id, text string) *Command {
	return &Command{
		ID:       id,
		Text:     text,
		QueuedAt: time.Now(),
		state:    StateQueued,
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// State returns the command's current state.
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsCompleted reports whether the command has reached a terminal state.
func (c *Command) IsCompleted() bool {
	switch c.State() {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Elapsed returns time since queued (if still queued/executing) or the
// queued-to-terminal duration once finished.
func (c *Command) Elapsed() time.Duration {
	c.mu.Lock()
	ended := c.EndedAt
	c.mu.Unlock()
	if ended.IsZero() {
		return time.Since(c.QueuedAt)
	}
	return ended.Sub(c.QueuedAt)
}

// Result returns the command's result text and error, if terminal.
func (c *Command) Result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

func (c *Command) transitionLocked(s State) {
	c.state = s
}

func (c *Command) finish(s State, result string, err error) {
	c.mu.Lock()
	if c.state == StateCompleted || c.state == StateFailed || c.state == StateCancelled {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.result = result
	c.err = err
	c.EndedAt = time.Now()
	c.mu.Unlock()

	close(c.doneCh)
}

// Status is the externally observable snapshot spec §4.5 status(id)
// returns.
type Status struct {
	ID            string
	Text          string
	State         State
	QueuedAt      time.Time
	Elapsed       time.Duration
	QueuePosition int // -1 if executing or done
	IsCompleted   bool
}
