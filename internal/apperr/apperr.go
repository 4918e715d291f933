// Package apperr implements the core's error taxonomy (spec.md §7): a
// single error kind with a machine-readable Code and a human-readable
// cause, so that the external REST layer can map a core failure onto an
// HTTP status without the core importing net/http.
//
// Usage mirrors the teacher's internal/errors package: constructors per
// code, an Error() that folds in the wrapped cause, and errors.As/Is
// support via Unwrap.
package apperr

import "fmt"

// Code is one of the taxonomy entries from spec.md §7.
type Code string

const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyInState   Code = "ALREADY_IN_STATE"
	CodeProtocol         Code = "PROTOCOL"
	CodeStorage          Code = "STORAGE"
	CodeSpawn            Code = "SPAWN"
	CodeIntegrityFailure Code = "INTEGRITY_FAILURE"
	CodeTransport        Code = "TRANSPORT"
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
)

// Error is the single error kind surfaced by the core.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound reports an unknown add-on id, adapter id, device id, or
// property name.
func NotFound(format string, args ...any) *Error {
	return newErr(CodeNotFound, nil, format, args...)
}

// AlreadyInState reports enable-when-enabled, disable-when-disabled,
// start-when-running, or stop-when-not-running.
func AlreadyInState(format string, args ...any) *Error {
	return newErr(CodeAlreadyInState, nil, format, args...)
}

// Protocol reports a malformed IPC frame, a missing required field, or an
// unexpected message while Unregistered.
func Protocol(format string, args ...any) *Error {
	return newErr(CodeProtocol, nil, format, args...)
}

// Storage wraps a repository failure.
func Storage(cause error, format string, args ...any) *Error {
	return newErr(CodeStorage, cause, format, args...)
}

// Spawn reports a child process that could not be started.
func Spawn(cause error, format string, args ...any) *Error {
	return newErr(CodeSpawn, cause, format, args...)
}

// IntegrityFailure reports an installer checksum mismatch or a manifest
// parse error.
func IntegrityFailure(cause error, format string, args ...any) *Error {
	return newErr(CodeIntegrityFailure, cause, format, args...)
}

// Transport reports a WebSocket/TCP read/write failure.
func Transport(cause error, format string, args ...any) *Error {
	return newErr(CodeTransport, cause, format, args...)
}

// CapacityExceeded reports the demultiplexer's request head exceeding
// MAX_REQUEST_SIZE.
func CapacityExceeded(format string, args ...any) *Error {
	return newErr(CodeCapacityExceeded, nil, format, args...)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if as(err, &e) {
		return e.Code == code
	}
	return false
}

// as is a tiny local errors.As so this package has no dependency beyond
// the standard error interface chain (Unwrap).
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
