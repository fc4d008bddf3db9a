package core

import (
	"errors"
	"fmt"
)

// Kind classifies service errors so the HTTP layer can pick a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindNotFound
	KindConflict
	KindInvalidCredential
	KindMisconfigured
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindMisconfigured:
		return "misconfigured"
	default:
		return "internal"
	}
}

// Error carries a client-safe Message alongside the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func InvalidInput(msg string) error      { return newError(KindInvalidInput, msg, nil) }
func Unauthorized(msg string) error      { return newError(KindUnauthorized, msg, nil) }
func NotFound(msg string) error          { return newError(KindNotFound, msg, nil) }
func Conflict(msg string) error          { return newError(KindConflict, msg, nil) }
func InvalidCredential(msg string) error { return newError(KindInvalidCredential, msg, nil) }
func Misconfigured(msg string) error     { return newError(KindMisconfigured, msg, nil) }

// Internal wraps err; msg is what a client may see.
func Internal(msg string, err error) error { return newError(KindInternal, msg, err) }

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err, or fallback when err carries none.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
