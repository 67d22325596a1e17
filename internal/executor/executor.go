// Package executor implements C6, the recovery-wrapped executor that
// sits between C5's dispatcher and C1's session: it classifies a
// command's timeout, enforces it, and best-effort triggers C4 recovery
// on qualifying failures.
package executor

import (
	"context"
	"time"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
	"github.com/hrygo/dbgtoolsrv/internal/logging"
)

// SessionExecutor is the C1 boundary this package drives.
type SessionExecutor interface {
	Execute(ctx context.Context, text string, externalCancel <-chan struct{}) (string, error)
}

// TimeoutStarter is the C2 boundary.
type TimeoutStarter interface {
	Start(id string, duration time.Duration, callback func(id string)) error
	Cancel(id string)
}

// Classifier is the C6-adjacent pure classification function.
type Classifier interface {
	Classify(text string) float64 // seconds
}

// Recoverer is the C4 boundary; recovery is best-effort and its
// outcome never changes the failure already surfaced to the caller.
type Recoverer interface {
	Recover(ctx context.Context, reason string) bool
}

// Executor wires C1/C2/C4/classify together per spec §4.6.
type Executor struct {
	session    SessionExecutor
	timeouts   TimeoutStarter
	classifier Classifier
	recoverer  Recoverer
	log        *logging.Logger
}

// New builds an Executor. recoverer may be nil to disable the
// best-effort recovery trigger (e.g. in tests).
func New(session SessionExecutor, timeouts TimeoutStarter, classifier Classifier, recoverer Recoverer, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.Default()
	}
	return &Executor{session: session, timeouts: timeouts, classifier: classifier, recoverer: recoverer, log: log}
}

// Execute runs the execute-with-recovery contract for one command.
func (e *Executor) Execute(ctx context.Context, id, text string, cancel <-chan struct{}) (string, error) {
	seconds := e.classifier.Classify(text)
	timeout := time.Duration(seconds * float64(time.Second))

	compositeCtx, cancelComposite := context.WithTimeout(ctx, timeout)
	defer cancelComposite()

	if err := e.timeouts.Start(id, timeout, func(string) {
		e.log.Warn("classified timeout fired", "id", id, "timeout", timeout)
		cancelComposite()
	}); err != nil {
		return "", dbgerrors.Wrap(dbgerrors.KindInvalidInput, err, "start classified timeout")
	}

	merged := mergeCancel(cancel, compositeCtx.Done())

	result, err := e.session.Execute(compositeCtx, text, merged)
	if err == nil {
		e.timeouts.Cancel(id)
		return result, nil
	}
	e.timeouts.Cancel(id)

	if compositeCtx.Err() == context.DeadlineExceeded && !dbgerrors.Is(err, dbgerrors.KindCancelled) {
		err = dbgerrors.Wrap(dbgerrors.KindTimeout, err, "classified timeout exceeded")
	}

	if e.recoverer != nil && e.qualifiesForRecovery(err, cancel) {
		e.recoverer.Recover(context.Background(), err.Error())
	}

	return result, err
}

// qualifiesForRecovery implements the §4.6 step-7 classification via
// dbgerrors.LooksLikeRecoverable: a Timeout or IOFailure kind, or a
// message mentioning the debugger/session subsystem — but never an externally requested cancellation, which
// is caller intent, not a stuck session.
func (e *Executor) qualifiesForRecovery(err error, externalCancel <-chan struct{}) bool {
	select {
	case <-externalCancel:
		return false
	default:
	}
	if dbgerrors.Is(err, dbgerrors.KindCancelled) {
		return false
	}
	return dbgerrors.LooksLikeRecoverable(err)
}

// mergeCancel fans two done-style channels into one: closed when
// either input fires.
func mergeCancel(a <-chan struct{}, b <-chan struct{}) <-chan struct{} {
	merged := make(chan struct{})
	go func() {
		select {
		case <-a:
		case <-b:
		}
		close(merged)
	}()
	return merged
}
