package chat

import (
	"errors"
	"fmt"

	"github.com/eldtechnologies/batepapo/internal/store"
)

// Kind classifies core errors so callers can tell them apart.
type Kind int

const (
	KindUnknown Kind = iota
	KindConflict
	KindNotFound
	KindForbidden
	KindInvalidArgument
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the core error type.
type Error struct {
	Kind    Kind
	Message string // safe to show to clients
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrUnavailable     = &Error{Kind: KindUnavailable, Message: "unavailable"}
)

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// unavailable wraps a store failure.
func unavailable(cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: "store unavailable", Cause: cause}
}

// fromStore maps store sentinels to core errors; anything else is unavailable.
func fromStore(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, notFound)
	default:
		return unavailable(err)
	}
}

// KindOf returns the kind of err, or KindUnknown if it is not a core error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
