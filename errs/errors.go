// Package errs implements the error taxonomy the engine uses to decide how
// far a failure propagates: retried in place, recorded against a solution,
// logged and dropped, or escalated to process exit.
package errs

import (
	"github.com/pkg/errors"
)

// Kind classifies an error for the purposes of the propagation policy.
type Kind int

const (
	// KindTransient covers blob/simulator/store/queue failures that are
	// expected to clear on retry (timeouts, connection resets).
	KindTransient Kind = iota
	// KindTerminalEvent covers a malformed event, missing blob, corrupt
	// payload, or simulator-reported execution failure: the event is
	// terminal, but the ingestor still advances past it.
	KindTerminalEvent
	// KindConstraintViolation covers a solution that the validator rejected.
	KindConstraintViolation
	// KindInternal covers invariant breaches: duplicate intent, a CAS that
	// lost when it should have won, a write to state that can't exist.
	KindInternal
	// KindFatal covers bootstrap failures: unreachable cursor store,
	// missing configuration. The process exits non-zero.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminalEvent:
		return "terminal_event"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindInternal:
		return "internal"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers up the stack can
// branch on propagation policy without parsing strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and op, the call-site label used in the
// rendered message (e.g. "blob_fetch", "cursor_store").
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.Wrap(err, op)}
}

// Transient, Terminal, Constraint, Internal, and Fatal are convenience
// constructors mirroring the taxonomy's five kinds.
func Transient(op string, err error) error  { return New(KindTransient, op, err) }
func Terminal(op string, err error) error   { return New(KindTerminalEvent, op, err) }
func Constraint(op string, err error) error { return New(KindConstraintViolation, op, err) }
func Internal(op string, err error) error   { return New(KindInternal, op, err) }
func Fatal(op string, err error) error      { return New(KindFatal, op, err) }

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that were never tagged (a bug surface we still want to survive, per the
// "never crash the process" policy for non-fatal errors).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err should be retried in place.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsFatal reports whether err should cause process exit.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
