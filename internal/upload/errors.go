package upload

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the lifecycle manager can surface.
// The API layer maps kinds to response codes; callers decide retryability
// from the kind alone.
type Kind string

const (
	// KindInvalidArgument indicates malformed caller input; not retryable as-is.
	KindInvalidArgument Kind = "invalid_argument"

	// KindNotFound indicates an unknown upload session.
	KindNotFound Kind = "not_found"

	// KindInvalidState indicates the operation is not legal in the session's
	// current status.
	KindInvalidState Kind = "invalid_state"

	// KindConflict indicates a part re-registration with a different ETag.
	KindConflict Kind = "conflict"

	// KindBackendUnavailable indicates a transient collaborator failure;
	// the caller may retry.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindBackendRejected indicates the collaborator refused the operation
	// for a structural reason; retrying without correction will not help.
	KindBackendRejected Kind = "backend_rejected"
)

// Error is a typed failure carrying its classification.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, or returns "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
