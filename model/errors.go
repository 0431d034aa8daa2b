package model

import (
	"errors"
	"net/http"
)

// Kind is a stable category for programmatic error handling.
//
// The set mirrors the wire-level error taxonomy: every Kind maps to exactly
// one HTTP status, and the string value is what appears in the response
// envelope's "error" field.
//
// NOTE: Error() strings are human-readable and may evolve. Use errors.As to
// extract *Error for structured handling.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindSignature    Kind = "signature_invalid"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindPermission   Kind = "permission_error"
	KindRateLimited  Kind = "rate_limited"
	KindEvidence     Kind = "evidence_insufficient"
	KindInternal     Kind = "server_error"
)

// Error is the service's structured error type.
//
// Details carries machine-readable context that is safe to return to the
// client (e.g. retry_after_seconds). Internal context goes to the audit log,
// never into Details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns a structured error with the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError attaches a cause to a structured error.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithDetail returns e with a detail key set, for fluent construction.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind for a structured error, or KindInternal for any
// other non-nil error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its wire status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindEvidence:
		return http.StatusUnprocessableEntity
	case KindSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPermission:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
