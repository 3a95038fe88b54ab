// Package apperr defines the error kinds surfaced to chat users and API clients.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindPrecondition  Kind = "precondition"
	KindNotFound      Kind = "not_found"
	KindStore         Kind = "store"
	KindChannel       Kind = "channel"
	KindInternal      Kind = "internal"
)

// Error carries a user-facing message and, for store and channel failures, the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err != nil:
		return e.Err.Error()
	case e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) error {
	return newf(KindAuthorization, format, args...)
}

func Validation(format string, args ...any) error {
	return newf(KindValidation, format, args...)
}

func Precondition(format string, args ...any) error {
	return newf(KindPrecondition, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

// Store wraps a persistence failure. The message is reported verbatim to the actor.
func Store(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStore, Message: fmt.Sprintf(format, args...), Err: err}
}

// Channel wraps a notification delivery failure.
func Channel(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindChannel, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
