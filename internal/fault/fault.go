// Package fault defines the failure taxonomy shared by the voxtale core.
//
// Every error that crosses a component boundary is classified into one of
// four kinds:
//
//   - [Transport] — timeouts and connection failures. Retried by the API
//     client before being surfaced.
//   - [Protocol] — malformed payloads or non-success backend status.
//     Chunk-level protocol faults are absorbed by the stream consumer;
//     request-level ones fail the owning operation.
//   - [State] — an operation invoked in a state that does not permit it.
//     Rejected synchronously with no side effects.
//   - [Resource] — a local resource (the audio engine) failed to
//     initialise or recover.
//
// Faults wrap an underlying cause, so both errors.As with *Error and
// errors.Is with the cause work as expected.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Transport covers network-level failures: timeouts, refused
	// connections, interrupted response bodies.
	Transport Kind = iota

	// Protocol covers well-formed transport carrying bad content: JSON that
	// does not parse, success=false payloads, non-zero backend status codes.
	Protocol

	// State covers operations that are invalid in the current state of a
	// component, such as starting a synthesis while one is in flight.
	State

	// Resource covers local resource failures, primarily audio engine
	// initialisation and rebuild.
	Resource
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case State:
		return "state"
	case Resource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a classified failure. It carries the operation that failed, the
// kind, and an optional underlying cause.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Op names the failing operation (e.g. "backend.call", "synth.start").
	Op string

	// Msg is a human-readable description. May be empty when Err speaks for
	// itself.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + e.Kind.String() + " fault"
	}
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New creates a fault of the given kind with a static message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a fault of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under the given kind and operation. Returns nil when
// err is nil. If err is already a classified *Error, the original kind is
// preserved and only the operation chain grows.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{Kind: fe.Kind, Op: op, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err. The second return is false when err is
// not a classified fault.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a classified fault of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
