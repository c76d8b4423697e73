package entstore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error's origin.
type ErrorKind string

const (
	// ErrClient marks construction mistakes caught before any network
	// interaction: unbound queries, empty composites, bad operators.
	ErrClient ErrorKind = "client"
	// ErrTranslate marks failures turning builder state into wire form.
	ErrTranslate ErrorKind = "translate"
	// ErrTransport marks failures surfaced verbatim from the scope's
	// execute capability.
	ErrTransport ErrorKind = "transport"
	// ErrDecode marks responses the pagination protocol cannot accept,
	// including unknown more-results states.
	ErrDecode ErrorKind = "decode"
)

type Error struct {
	Kind     ErrorKind
	Message  string
	Property string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := fmt.Sprintf("entstore: %s: %s", e.Kind, e.Message)
	if e.Property != "" {
		base = fmt.Sprintf("%s (property=%s)", base, e.Property)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func ClientError(msg string) *Error {
	return &Error{Kind: ErrClient, Message: msg}
}

func DecodeError(msg string) *Error {
	return &Error{Kind: ErrDecode, Message: msg}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
