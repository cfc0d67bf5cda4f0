// Package errs defines the driver-wide error taxonomy from the error
// handling design: a closed set of kinds, each with its own propagation
// policy, wrapping an underlying cause with the standard errors package.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds the driver core recognizes.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindAuth
	KindPermissionDenied
	KindNotFound
	KindInvariantViolation
	KindTimeout
	KindMemory
	KindStorageUnavailable
	KindStorageConflict
	KindBufferBacklog
	KindHeartbeatTimeout
	KindCompile
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol_error"
	case KindAuth:
		return "auth_error"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindTimeout:
		return "timeout_error"
	case KindMemory:
		return "memory_error"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindStorageConflict:
		return "storage_conflict"
	case KindBufferBacklog:
		return "buffer_backlog"
	case KindHeartbeatTimeout:
		return "heartbeat_timeout"
	case KindCompile:
		return "compile_error"
	case KindRuntime:
		return "runtime_error"
	default:
		return "unknown_error"
	}
}

// Error is the concrete type carried for every driver-raised failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf extracts the player-facing message of err, falling back to
// err.Error() when err is not an *Error (e.g. an error from outside this
// package that still needs to be surfaced to a connection).
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
