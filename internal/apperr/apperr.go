package apperr

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error identifier returned to clients.
type Code string

const (
	CodeInvalidCredentials      Code = "INVALID_CREDENTIALS"
	CodeAccountLocked           Code = "ACCOUNT_LOCKED"
	CodeAccountDisabled         Code = "ACCOUNT_DISABLED"
	CodeNotPrivilegedTenant     Code = "NOT_PRIVILEGED_TENANT"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeInvalidRole             Code = "INVALID_ROLE"
	CodeDuplicateAssignment     Code = "DUPLICATE_ASSIGNMENT"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeAssignmentNotFound      Code = "ASSIGNMENT_NOT_FOUND"
	CodeTenantMismatch          Code = "TENANT_MISMATCH"
	CodeWeakPassword            Code = "WEAK_PASSWORD"
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeStoreUnavailable        Code = "STORE_UNAVAILABLE"
	CodeInternal                Code = "INTERNAL"
)

// Error is a user-facing error. Message is safe to return to clients; Err
// carries the underlying cause for server-side logging only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports code equality so sentinels match wrapped instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials      = New(CodeInvalidCredentials, "invalid login id or password")
	ErrAccountLocked           = New(CodeAccountLocked, "account is temporarily locked")
	ErrAccountDisabled         = New(CodeAccountDisabled, "account is disabled")
	ErrNotPrivilegedTenant     = New(CodeNotPrivilegedTenant, "user does not belong to the privileged tenant")
	ErrTokenExpired            = New(CodeTokenExpired, "token has expired")
	ErrInvalidToken            = New(CodeInvalidToken, "token is invalid")
	ErrUserNotFound            = New(CodeUserNotFound, "user not found")
	ErrInvalidRole             = New(CodeInvalidRole, "role is not defined for the service")
	ErrDuplicateAssignment     = New(CodeDuplicateAssignment, "role is already assigned to the user")
	ErrInsufficientPermissions = New(CodeInsufficientPermissions, "insufficient permissions for this operation")
	ErrAssignmentNotFound      = New(CodeAssignmentNotFound, "role assignment not found")
	ErrTenantMismatch          = New(CodeTenantMismatch, "user is not a member of the tenant")
	ErrStoreUnavailable        = New(CodeStoreUnavailable, "backing store is unavailable")
	ErrInternal                = New(CodeInternal, "internal error")
)

// New creates an Error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that carries cause for logging.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// With returns a copy of the sentinel e carrying cause.
func (e *Error) With(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: cause}
}

// Unavailable wraps a store/transport failure.
func Unavailable(cause error) *Error {
	return ErrStoreUnavailable.With(cause)
}

// Internal wraps an unexpected failure such as a signing error.
func Internal(cause error) *Error {
	return ErrInternal.With(cause)
}

// Validation returns a VALIDATION_ERROR with the given message.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// CodeOf extracts the Code from err, or CodeInternal when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}

// HTTPStatus maps a code to the response status used by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidCredentials, CodeTokenExpired, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeAccountLocked:
		return http.StatusLocked
	case CodeAccountDisabled, CodeNotPrivilegedTenant, CodeInsufficientPermissions:
		return http.StatusForbidden
	case CodeUserNotFound, CodeAssignmentNotFound:
		return http.StatusNotFound
	case CodeDuplicateAssignment:
		return http.StatusConflict
	case CodeInvalidRole, CodeTenantMismatch, CodeWeakPassword, CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fatal reports whether err represents an unexpected, 5xx-class condition.
func Fatal(err error) bool {
	return HTTPStatus(CodeOf(err)) >= http.StatusInternalServerError
}
