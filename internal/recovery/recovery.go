// Package recovery implements C4, the multi-step stuck-session
// recovery orchestrator: cancel → soft-interrupt → forced restart.
package recovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
	"github.com/hrygo/dbgtoolsrv/internal/dbgsession"
	"github.com/hrygo/dbgtoolsrv/internal/logging"
)

// SessionController is the subset of C1 recovery needs.
type SessionController interface {
	IsActive() bool
	CancelCurrent()
	Stop() error
	Start(ctx context.Context, target dbgsession.Target) error
}

// HealthProbe is the subset of C3 recovery needs.
type HealthProbe interface {
	IsResponsive(ctx context.Context) bool
}

// Dispatcher is the subset of C5 recovery needs.
type Dispatcher interface {
	CancelAll(reason string) int
}

// EventSink receives recovery lifecycle notifications (C8 boundary).
type EventSink interface {
	Notify(event string, detail map[string]any)
}

// noopSink discards events when no sink is configured.
type noopSink struct{}

func (noopSink) Notify(string, map[string]any) {}

// Metrics receives recovery-attempt and restart observations
// (telemetry boundary). Optional: a nil Metrics passed to New is
// replaced with a no-op implementation.
type Metrics interface {
	RecordRecoveryAttempt(outcome string)
	RecordSessionRestart()
}

type noopMetrics struct{}

func (noopMetrics) RecordRecoveryAttempt(string) {}
func (noopMetrics) RecordSessionRestart()        {}

// Options configures attempt limits and backoff.
type Options struct {
	MaxAttempts      int
	BaseRestartDelay time.Duration
	Cooldown         time.Duration // minimum spacing between attempts
}

// state machine constants.
const (
	stateIdle = iota
	stateRecovering
)

// Orchestrator drives the recovery state machine for a single session.
type Orchestrator struct {
	session    SessionController
	health     HealthProbe
	dispatcher Dispatcher
	sink       EventSink
	metrics    Metrics
	opts       Options
	log        *logging.Logger

	group singleflight.Group

	mu          sync.Mutex
	state       int
	attempts    int
	lastAttempt time.Time
	target      dbgsession.Target
}

// SetTarget records the dump/remote target the session was last
// started against, so a forced restart can reopen the same target.
func (o *Orchestrator) SetTarget(target dbgsession.Target) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target = target
}

// New builds an Orchestrator. sink and metrics may be nil (events/
// observations are dropped).
func New(session SessionController, health HealthProbe, dispatcher Dispatcher, sink EventSink, opts Options, metrics Metrics, log *logging.Logger) *Orchestrator {
	if sink == nil {
		sink = noopSink{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = logging.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseRestartDelay <= 0 {
		opts.BaseRestartDelay = time.Second
	}
	return &Orchestrator{
		session:    session,
		health:     health,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    metrics,
		opts:       opts,
		log:        log,
	}
}

// exhausted reports whether the consecutive-attempt budget is spent.
func (o *Orchestrator) exhausted() bool {
	return o.attempts >= o.opts.MaxAttempts
}

// shouldAttempt reports whether a new recovery attempt is permitted,
// given the attempt count and cooldown since the last one.
func (o *Orchestrator) shouldAttempt() bool {
	if o.exhausted() {
		return false
	}
	if o.opts.Cooldown > 0 && time.Since(o.lastAttempt) < o.opts.Cooldown {
		return false
	}
	return true
}

// reportExhausted records and surfaces a KindRecoveryExhausted failure
// once the consecutive-attempt budget is spent.
func (o *Orchestrator) reportExhausted(reason string) {
	err := dbgerrors.New(dbgerrors.KindRecoveryExhausted, "max recovery attempts exhausted")
	o.metrics.RecordRecoveryAttempt("exhausted")
	o.sink.Notify("Recovery Exhausted", map[string]any{"reason": reason, "error": err.Error()})
	o.log.Error("recovery attempts exhausted", "reason", reason, "attempts", o.attempts)
}

// Recover runs the recover(reason) contract. Concurrent callers for
// the same orchestrator collapse onto a single in-flight attempt via
// singleflight and all observe its outcome.
func (o *Orchestrator) Recover(ctx context.Context, reason string) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("recovery orchestrator panicked", "panic", r)
			o.sink.Notify("Recovery Failed", map[string]any{"reason": reason, "panic": r})
			recovered = false
		}
	}()

	result, _, _ := o.group.Do("recover", func() (any, error) {
		return o.runRecovery(ctx, reason), nil
	})
	return result.(bool)
}

func (o *Orchestrator) runRecovery(ctx context.Context, reason string) bool {
	if o.session == nil || !o.session.IsActive() {
		return false
	}

	o.mu.Lock()
	if o.state == stateRecovering {
		o.mu.Unlock()
		return false
	}
	if o.exhausted() {
		o.mu.Unlock()
		o.reportExhausted(reason)
		return false
	}
	if !o.shouldAttempt() {
		o.mu.Unlock()
		return false
	}
	o.state = stateRecovering
	o.attempts++
	o.lastAttempt = time.Now()
	attempt := o.attempts
	o.mu.Unlock()

	o.sink.Notify("Recovery Started", map[string]any{"reason": reason, "attempt": attempt})
	o.log.Warn("recovery started", "reason", reason, "attempt", attempt)

	if o.dispatcher != nil {
		o.dispatcher.CancelAll(reason)
	}
	o.session.CancelCurrent()
	time.Sleep(time.Second)

	if o.health != nil && o.health.IsResponsive(ctx) {
		o.resetAttempts()
		o.metrics.RecordRecoveryAttempt("recovered")
		o.sink.Notify("Recovery Completed (after cancel)", map[string]any{"reason": reason})
		o.log.Info("recovery completed after cancel", "reason", reason)
		return true
	}

	return o.forceRestart(ctx, reason, attempt)
}

// ForceRestart runs steps 4+ of the contract directly, bypassing the
// cancel-then-probe steps.
func (o *Orchestrator) ForceRestart(ctx context.Context, reason string) bool {
	o.mu.Lock()
	if o.state == stateRecovering {
		o.mu.Unlock()
		return false
	}
	if o.exhausted() {
		o.mu.Unlock()
		o.reportExhausted(reason)
		return false
	}
	o.state = stateRecovering
	o.attempts++
	o.lastAttempt = time.Now()
	attempt := o.attempts
	o.mu.Unlock()

	return o.forceRestart(ctx, reason, attempt)
}

func (o *Orchestrator) forceRestart(ctx context.Context, reason string, attempt int) bool {
	if o.dispatcher != nil {
		o.dispatcher.CancelAll(reason)
	}
	_ = o.session.Stop()

	delay := o.opts.BaseRestartDelay * time.Duration(1<<uint(attempt-1))
	time.Sleep(delay)

	if o.session.IsActive() {
		o.markIdleAfterFailure()
		o.metrics.RecordRecoveryAttempt("failed")
		o.sink.Notify("Recovery Failed", map[string]any{"reason": reason, "kind": string(dbgerrors.KindFatal)})
		o.log.Error("recovery failed: session still active after stop", "reason", reason)
		return false
	}

	o.mu.Lock()
	target := o.target
	o.mu.Unlock()

	if err := o.session.Start(ctx, target); err != nil {
		o.markIdleAfterFailure()
		o.metrics.RecordRecoveryAttempt("failed")
		o.sink.Notify("Recovery Failed", map[string]any{"reason": reason, "error": err.Error()})
		o.log.Error("recovery failed: restart failed", "reason", reason, "error", err)
		return false
	}

	o.resetAttempts()
	o.metrics.RecordRecoveryAttempt("restarted")
	o.metrics.RecordSessionRestart()
	o.sink.Notify("Recovery Completed (after restart)", map[string]any{"reason": reason})
	o.log.Info("recovery completed after restart", "reason", reason)
	return true
}

func (o *Orchestrator) resetAttempts() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = 0
	o.state = stateIdle
}

func (o *Orchestrator) markIdleAfterFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = stateIdle
}

// Attempts returns the current consecutive-attempt count (test/
// observability helper).
func (o *Orchestrator) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}
