// Package apperr provides typed domain errors. Services return these and the
// HTTP layer maps them to a status code and a {error, detail} JSON body.
package apperr

import (
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = iota
	// KindUnauthorized indicates a missing/invalid session or admin key.
	KindUnauthorized
	// KindValidation indicates missing or malformed input.
	KindValidation
	// KindProvider indicates a non-2xx or unparsable response from the
	// external voice-AI API.
	KindProvider
	// KindNotFound indicates no matching call record or provider id.
	KindNotFound
	// KindStorage indicates the database is unreachable or a constraint
	// violation was not otherwise handled.
	KindStorage
)

// Code is the stable machine-readable value emitted in the "error" field.
func (k Kind) Code() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider_error"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage_error"
	default:
		return "internal"
	}
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind   Kind
	Detail string
	Err    error // underlying error (optional)

	// Status overrides the kind's default HTTP status when non-zero.
	// Used to surface the provider's own status on provider errors.
	Status int
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Detail)
	}
	return e.Kind.Code()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindProvider:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new domain error with the given kind and detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Convenience constructors for the common kinds.

func Unauthorized(detail string) *Error { return New(KindUnauthorized, detail) }
func Validation(detail string) *Error   { return New(KindValidation, detail) }
func NotFound(detail string) *Error     { return New(KindNotFound, detail) }

// Provider creates a provider error carrying the upstream HTTP status when
// one is available.
func Provider(detail string, upstreamStatus int) *Error {
	return &Error{Kind: KindProvider, Detail: detail, Status: upstreamStatus}
}

// Storage wraps a database error.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Detail: "database operation failed", Err: err}
}

// Internal wraps an unexpected error.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Detail: "unexpected error", Err: err}
}
