// Package domainerr defines the error taxonomy shared by the segmentation
// and experiment services. Every error crossing a service boundary is one of
// four kinds, so the API layer can map errors to HTTP statuses without
// string matching.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindValidation marks malformed input (bad rule value, weights not
	// summing to 100). Never retried.
	KindValidation Kind = iota + 1

	// KindNotFound marks an unknown segment, experiment, or variant name.
	KindNotFound

	// KindState marks an illegal lifecycle transition or a mutation of a
	// field that is frozen in the current status.
	KindState

	// KindDependency marks a failure in an external collaborator
	// (user directory, push sender, persistence).
	KindDependency
)

// String returns the machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Error is a kind-carrying domain error. It optionally wraps a cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap exposes the cause to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// State builds a KindState error.
func State(format string, args ...any) error {
	return &Error{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

// Dependency builds a KindDependency error wrapping the collaborator failure.
func Dependency(cause error, format string, args ...any) error {
	return &Error{Kind: KindDependency, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or 0 if err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsState reports whether err is an illegal-state error.
func IsState(err error) bool { return KindOf(err) == KindState }

// IsDependency reports whether err is a collaborator failure.
func IsDependency(err error) bool { return KindOf(err) == KindDependency }
