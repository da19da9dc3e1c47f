// Package domainerrors defines the typed error vocabulary shared by all
// services. Infrastructure layers return sentinel errors; services wrap or
// translate them into one of these coded errors so transports can map them
// to consistent HTTP responses without inspecting raw causes.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeInvalidInput        Code = "invalid_input"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeUnauthorized        Code = "unauthorized"
	CodeForbidden           Code = "forbidden"
	CodeExpired             Code = "expired"
	CodeLockedOut           Code = "locked_out"
	CodeIdentityMismatch    Code = "identity_mismatch"
	CodeIntegrityMismatch   Code = "integrity_mismatch"
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeStateConflict       Code = "state_conflict"
	CodeInternal            Code = "internal"
)

// Error carries a domain code, a user-safe message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded domain error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a domain code and message to an underlying error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the domain code from err, defaulting to CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to an HTTP status. Identity and code
// mismatches intentionally share a generic 401 so responses never reveal
// which factor failed.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeStateConflict:
		return http.StatusConflict
	case CodeUnauthorized, CodeIdentityMismatch:
		return http.StatusUnauthorized
	case CodeForbidden, CodeLockedOut:
		return http.StatusForbidden
	case CodeExpired:
		return http.StatusGone
	case CodeIntegrityMismatch:
		return http.StatusUnprocessableEntity
	case CodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
