// Package forgeerr defines the small set of typed error kinds shared across
// the module runtime, rather than a hierarchy of exception classes. Callers
// that need to distinguish failure modes (e.g. the admin API choosing an
// HTTP status) use errors.As against *Error and switch on Kind.
package forgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a forgeerr.Error.
type Kind string

const (
	// KindBadVersion marks a malformed version string or range spec.
	KindBadVersion Kind = "bad-version"
	// KindCircularDependency marks a module dependency graph with a cycle.
	KindCircularDependency Kind = "circular-dependency"
	// KindUnknownModule marks a reference to a module that was never loaded.
	KindUnknownModule Kind = "unknown-module"
	// KindUnknownEntry marks a manifest "entry" with no registered constructor.
	KindUnknownEntry Kind = "unknown-entry"
	// KindValidation marks a configuration or request value that failed
	// validation.
	KindValidation Kind = "validation"
)

// Error is a typed error carrying a Kind alongside the usual message/wrapped
// cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is, or wraps, a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
