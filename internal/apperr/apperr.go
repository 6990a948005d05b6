package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Unauthenticated
	AccessTokenExpired
	Forbidden
	NotFound
	Conflict
	DeliveryFailed
)

// Error is an operational error with a stable machine-readable code.
// Internal errors are non-operational: their detail is logged server-side
// and never shown to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Operational reports whether the message is safe to surface to a client.
func (e *Error) Operational() bool { return e.Kind != Internal }

func (e *Error) Status() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated, AccessTokenExpired:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case DeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) Code() string {
	switch e.Kind {
	case Validation:
		return "VALIDATION_FAILED"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case AccessTokenExpired:
		return "ACCESS_TOKEN_EXPIRED"
	case Forbidden:
		return "FORBIDDEN"
	case NotFound:
		return "NOT_FOUND"
	case Conflict:
		return "CONFLICT"
	case DeliveryFailed:
		return "DELIVERY_FAILED"
	default:
		return "INTERNAL"
	}
}

// KindOf extracts the kind from any error in the chain, defaulting to
// Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}
