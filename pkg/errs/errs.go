// Package errs defines fbuildd's sentinel error taxonomy: a small set of
// well-known error kinds that processors, transports, and the CLI can
// distinguish with errors.Is/errors.As instead of string matching.
package errs

import "fmt"

// Kind classifies an error into one of the categories a client needs to
// react differently to (retry, surface to the user, treat as fatal).
type Kind string

const (
	KindLockBusy        Kind = "lock_busy"
	KindLockTimeout      Kind = "lock_timeout"
	KindNotFound        Kind = "not_found"
	KindInvalidRequest  Kind = "invalid_request"
	KindSubprocessFailed Kind = "subprocess_failed"
	KindWatchdogTimeout Kind = "watchdog_timeout"
	KindCancelled       Kind = "cancelled"
	KindPortBusy        Kind = "port_busy"
	KindSerialIO        Kind = "serial_io"
	KindConfigError     Kind = "config_error"
	KindInternal        Kind = "internal"
)

// Error is fbuildd's standard error envelope. Op names the failing
// component/operation ("lockmgr.Acquire", "build.Compile"), Kind is the
// sentinel category, and Err (if set) is the wrapped underlying cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, errs.Kind(...)) style checks via a sentinel
// wrapper: errors.Is(err, &Error{Kind: KindLockBusy}) matches any *Error
// with the same Kind, regardless of Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with no wrapped cause.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(op string, kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// as is a tiny local indirection to errors.As to avoid importing errors
// in every call site that just wants KindOf.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
