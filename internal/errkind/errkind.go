// Package errkind classifies failures crossing the orchestrator's component
// boundaries. Kinds are terminal-state data: the task runner and the
// download queue record them rather than raising past their boundary.
package errkind

import (
	"errors"
	"fmt"
)

// Kind partitions errors by recovery policy.
type Kind int

const (
	// Network covers connectivity lost or reset. Non-fatal, retryable,
	// safe to retry silently.
	Network Kind = iota + 1
	// Api covers structured errors reported by the remote service. The
	// literal strings are surfaced since they are not localized.
	Api
	// NoCandidates means upload resolution produced an empty set.
	NoCandidates
	// AmbiguousCandidates means resolution needs a user pick. It routes to
	// a prompt, not a failure surface.
	AmbiguousCandidates
	// Transport covers download-layer I/O failures.
	Transport
	// Filesystem covers permission or missing-path failures during install
	// finalization.
	Filesystem
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Api:
		return "api"
	case NoCandidates:
		return "no-candidates"
	case AmbiguousCandidates:
		return "ambiguous-candidates"
	case Transport:
		return "transport"
	case Filesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or zero when the chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a failure is eligible for a silent retry.
func Retryable(err error) bool {
	return Is(err, Network)
}
