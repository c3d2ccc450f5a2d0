// Package errors defines the typed error used across the storefront. Every
// Code maps to one HTTP status and one public message, and only client codes
// let a caller supplied message reach the response body.
package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeOutOfStock  Code = "OUT_OF_STOCK"
	CodeConflict    Code = "CONFLICT"
	CodeIdempotency Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeDependency  Code = "DEPENDENCY_ERROR"
)

// Metadata is the transport policy attached to a Code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type codeSpec struct {
	Metadata
	client bool
}

var specs = map[Code]codeSpec{
	CodeValidation:  {Metadata{http.StatusBadRequest, false, "validation failed", true}, true},
	CodeNotFound:    {Metadata{http.StatusNotFound, false, "resource not found", false}, true},
	CodeOutOfStock:  {Metadata{http.StatusBadRequest, false, "product out of stock", true}, true},
	CodeConflict:    {Metadata{http.StatusConflict, true, "conflict detected", false}, true},
	CodeIdempotency: {Metadata{http.StatusConflict, false, "idempotency key reused", true}, true},
	CodeInternal:    {Metadata{http.StatusInternalServerError, true, "internal server error", false}, false},
	CodeDependency:  {Metadata{http.StatusServiceUnavailable, true, "dependency unavailable", true}, false},
}

func specFor(code Code) codeSpec {
	if s, ok := specs[code]; ok {
		return s
	}
	return specs[CodeInternal]
}

// MetadataFor returns the policy for code; unknown codes get the internal policy.
func MetadataFor(code Code) Metadata {
	return specFor(code).Metadata
}

// IsClientCode reports whether the code describes a caller mistake whose message is safe to expose.
func IsClientCode(code Code) bool {
	s, ok := specs[code]
	return ok && s.client
}

// Error is safe to use through a nil pointer; a nil *Error reads as CodeInternal.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err, which may be nil.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the structured details rendered when the code allows them.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether the outermost *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return As(err).codeOr("") == code
}

func (e *Error) codeOr(fallback Code) Code {
	if e == nil {
		return fallback
	}
	return e.code
}
