package engine

import (
	"errors"
	"fmt"
)

// Kind classifies user-facing engine failures. Store and normalizer errors
// stay internal; the engine is the single place that decides what becomes a
// user-facing error versus a structured partial result.
type Kind int

const (
	// KindBadInput covers unusable paths, malformed build outputs, and
	// invalid arguments.
	KindBadInput Kind = iota + 1
	// KindTagExists is the single conflict-prevention failure: the requested
	// tag is already claimed and force was not set.
	KindTagExists
	// KindNotFound covers selectors and targets that match nothing remote.
	KindNotFound
	// KindInternal marks failures the user cannot act on, including
	// programming-invariant violations that must not be silently absorbed.
	KindInternal
)

// Error is the orchestration-level error type returned across the engine
// boundary. The wrapped cause is kept for debug logging but the Message alone
// must be actionable.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func badInput(err error, format string, args ...any) *Error {
	return &Error{Kind: KindBadInput, Message: fmt.Sprintf(format, args...), Err: err}
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func tagExists(tag string) *Error {
	return &Error{
		Kind:    KindTagExists,
		Message: fmt.Sprintf("tag %q already exists; use force to re-point it", tag),
	}
}

func internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}
