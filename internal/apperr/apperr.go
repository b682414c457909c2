// Package apperr provides the typed error kinds shared by the follow-up core.
// Services return these errors; the HTTP layer maps them to status codes and
// background paths use the kind to decide between logging and surfacing.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: malformed date, time, number or request body.
	KindValidation
	// KindNotFound: unknown identifier in any lookup.
	KindNotFound
	// KindProvider: call placement or recording fetch rejected by the provider.
	KindProvider
	// KindTransientIO: network failure or timeout talking to an external service.
	KindTransientIO
	// KindStateConflict: status event for an attempt that cannot accept it.
	KindStateConflict
	// KindConflict: an outstanding attempt or duplicate row already exists.
	KindConflict
	// KindInternal: unexpected failure.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider"
	case KindTransientIO:
		return "transient_io"
	case KindStateConflict:
		return "state_conflict"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a domain error with a typed Kind.
type Error struct {
	Kind    Kind
	Message string
	Op      string // operation that failed (optional)
	Err     error  // underlying error (optional)
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code used when the error reaches an API caller.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindStateConflict:
		return http.StatusConflict
	case KindProvider:
		return http.StatusBadGateway
	case KindTransientIO:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the operation name and returns the same error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

func Validation(message string) *Error { return New(KindValidation, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func StateConflict(message string) *Error { return New(KindStateConflict, message) }

func Conflict(message string) *Error { return New(KindConflict, message) }

func Provider(message string, err error) *Error { return Wrap(KindProvider, message, err) }

func TransientIO(message string, err error) *Error { return Wrap(KindTransientIO, message, err) }

func Internal(message string, err error) *Error { return Wrap(KindInternal, message, err) }

// GetKind extracts the kind from anywhere in err's chain.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
