// Package serviceerr defines the error taxonomy shared by the directory,
// login and session packages.
package serviceerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine readable error code. It is the value carried in the
// failure redirect marker, so it must stay stable.
type Code string

const (
	CodeInvalidRequest         Code = "invalid_request"
	CodeInvalidIdentifier      Code = "invalid_identifier"
	CodeUnknownDirectory       Code = "unknown_directory"
	CodeValidation             Code = "validation_error"
	CodeConflict               Code = "conflict"
	CodeNotFound               Code = "not_found"
	CodeStateMismatch          Code = "state_mismatch"
	CodeProviderUnreachable    Code = "provider_unreachable"
	CodeProviderRejected       Code = "provider_rejected"
	CodeMalformedIdentityToken Code = "malformed_identity_token"
	CodeUnauthenticated        Code = "unauthenticated"
	CodeUnknown                Code = "unknown"
)

// UnknownFailureCode is used in failure redirects when no code is available.
const UnknownFailureCode = "Unknown"

type Error struct {
	Err         Code
	Description string
}

var (
	ErrInvalidRequest         = &Error{Err: CodeInvalidRequest}
	ErrInvalidIdentifier      = &Error{Err: CodeInvalidIdentifier, Description: "user identifier must contain '@'"}
	ErrUnknownDirectory       = &Error{Err: CodeUnknownDirectory, Description: "directory not found"}
	ErrValidation             = &Error{Err: CodeValidation, Description: "validation failed"}
	ErrConflict               = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound               = &Error{Err: CodeNotFound, Description: "not found"}
	ErrStateMismatch          = &Error{Err: CodeStateMismatch, Description: "anti-forgery state does not match"}
	ErrProviderUnreachable    = &Error{Err: CodeProviderUnreachable, Description: "identity provider unreachable"}
	ErrProviderRejected       = &Error{Err: CodeProviderRejected, Description: "identity provider rejected the request"}
	ErrMalformedIdentityToken = &Error{Err: CodeMalformedIdentityToken, Description: "malformed identity token"}
	ErrUnauthenticated        = &Error{Err: CodeUnauthenticated, Description: "session is not authenticated"}
	ErrUnknown                = &Error{Err: CodeUnknown, Description: "unknown error"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Err, e.Description)
}

// Is matches any *Error with the same code, so errors built with the
// constructors below still satisfy errors.Is against the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Err == e.Err
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeInvalidIdentifier, CodeValidation:
		return http.StatusBadRequest
	case CodeUnknownDirectory, CodeStateMismatch, CodeMalformedIdentityToken, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeProviderRejected:
		return http.StatusBadGateway
	case CodeProviderUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validation returns a validation error with the given description.
func Validation(format string, args ...any) *Error {
	return &Error{Err: CodeValidation, Description: fmt.Sprintf(format, args...)}
}

// Conflict returns a conflict error with the given description.
func Conflict(format string, args ...any) *Error {
	return &Error{Err: CodeConflict, Description: fmt.Sprintf(format, args...)}
}

// UnknownDirectory returns an error whose message echoes the looked up domain.
func UnknownDirectory(domain string) *Error {
	return &Error{Err: CodeUnknownDirectory, Description: "directory not found: " + domain}
}

// MalformedIdentityToken returns an error naming what is wrong with the token.
func MalformedIdentityToken(format string, args ...any) *Error {
	return &Error{Err: CodeMalformedIdentityToken, Description: fmt.Sprintf(format, args...)}
}

// ProviderError is a structured OAuth2 error returned by the identity
// provider. Fields are kept verbatim.
type ProviderError struct {
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
	StatusCode       int    `json:"-"`
}

func (e *ProviderError) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = UnknownFailureCode
	}

	if e.ErrorDescription == "" {
		return "identity provider rejected the request: " + code
	}

	return fmt.Sprintf("identity provider rejected the request: %s: %s", code, e.ErrorDescription)
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderRejected
}

// UnreachableError is a transport level failure talking to the identity
// provider. Type holds the Go type of the underlying error.
type UnreachableError struct {
	Type    string
	Message string
	Err     error
}

// Unreachable wraps a transport error.
func Unreachable(err error) *UnreachableError {
	return &UnreachableError{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Err:     err,
	}
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("identity provider unreachable: %s: %s", e.Type, e.Message)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

func (e *UnreachableError) Is(target error) bool {
	return target == ErrProviderUnreachable
}

// HTTPStatus returns the HTTP status for any error of the taxonomy and 500
// for everything else.
func HTTPStatus(err error) int {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return http.StatusBadGateway
	}

	var unreachable *UnreachableError
	if errors.As(err, &unreachable) {
		return http.StatusServiceUnavailable
	}

	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}

	return http.StatusInternalServerError
}

// FailureInfo returns the code and description carried to the user in a
// failure redirect. Provider codes are passed through untouched.
func FailureInfo(err error) (code, description string) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		code = provErr.ErrorCode
		if code == "" {
			code = UnknownFailureCode
		}

		return code, provErr.ErrorDescription
	}

	var unreachable *UnreachableError
	if errors.As(err, &unreachable) {
		return string(CodeProviderUnreachable), unreachable.Type + ": " + unreachable.Message
	}

	var e *Error
	if errors.As(err, &e) {
		return string(e.Err), e.Description
	}

	return UnknownFailureCode, ""
}
