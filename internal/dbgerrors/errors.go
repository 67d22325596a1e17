// Package dbgerrors defines the error taxonomy shared across the debugger
// tool server's core components (spec §7). Kinds are used for
// classification/dispatch; the underlying error chain is still built with
// github.com/pkg/errors so internal propagation keeps stack context.
package dbgerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the taxonomy of failures the core pipeline can produce.
// Kinds are not type names: callers should switch on Kind, not on a type
// assertion, since every Kind is carried by the same *Error wrapper.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNoSession          Kind = "no_session"
	KindAlreadyActive      Kind = "already_active"
	KindExecutableNotFound Kind = "executable_not_found"
	KindStartFailed        Kind = "start_failed"
	KindIOFailure          Kind = "io_failure"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindRecoveryExhausted  Kind = "recovery_exhausted"
	KindFatal              Kind = "fatal"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error with a stack-annotated message, no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: errors.New(msg)}
}

// Wrap builds a *Error wrapping cause with additional context, preserving
// cause's stack trace via github.com/pkg/errors.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: errors.Wrap(cause, msg)}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if te, ok := err.(*Error); ok { //nolint:errorlint // intentional chain walk below via Unwrap
			if te.Kind == kind {
				return true
			}
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap)
// a *Error.
func KindOf(err error) Kind {
	for err != nil {
		if te, ok := err.(*Error); ok { //nolint:errorlint // intentional chain walk below via Unwrap
			return te.Kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// LooksLikeRecoverable implements the §4.6 classification heuristic: an
// exception qualifies for recovery if it is already Timeout/IOFailure, or
// its message mentions the debugger/session subsystem.
func LooksLikeRecoverable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindIOFailure:
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "debugger") || strings.Contains(msg, "session")
}
