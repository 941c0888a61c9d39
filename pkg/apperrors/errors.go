// Package apperrors defines the security error taxonomy shared by the
// authentication pipeline, the token codec, and the HTTP boundary.
//
// Every error carries a Kind (used with errors.Is), a stable machine code
// (AUTH_001, TENANT_003, ...) and the HTTP status it maps to. Only the HTTP
// boundary turns these into response bodies; everything below it returns
// plain Go errors.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for policy decisions and status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidToken
	KindExpiredToken
	KindTokenMismatch
	KindInvalidCredentials
	KindUnauthenticated
	KindAuthenticationFailed
	KindAccessDenied
	KindTenant
	KindIllegalState
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid_token"
	case KindExpiredToken:
		return "expired_token"
	case KindTokenMismatch:
		return "token_mismatch"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindAccessDenied:
		return "access_denied"
	case KindTenant:
		return "tenant"
	case KindIllegalState:
		return "illegal_state"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Code is the machine readable error identifier exposed to clients.
type Code string

const (
	CodeInvalidToken         Code = "AUTH_001"
	CodeExpiredToken         Code = "AUTH_002"
	CodeTokenMismatch        Code = "AUTH_003"
	CodeInvalidCredentials   Code = "AUTH_004"
	CodeAuthRequired         Code = "AUTH_005"
	CodeAuthenticationFailed Code = "AUTH_006"

	CodeAccessDenied      Code = "ACCESS_001"
	CodeRateLimitExceeded Code = "ACCESS_002"

	CodeTenantInvalid   Code = "TENANT_001"
	CodeTenantRequired  Code = "TENANT_002"
	CodeTenantForbidden Code = "TENANT_003"
	CodeTenantNotFound  Code = "TENANT_004"

	CodeInvalidRequest Code = "REQ_001"

	CodeIllegalState Code = "SYS_001"
	CodeInternal     Code = "SYS_002"
)

type codeInfo struct {
	title  string
	slug   string
	status int
}

var codes = map[Code]codeInfo{
	CodeInvalidToken:         {"INVALID_TOKEN", "invalid-token", http.StatusUnauthorized},
	CodeExpiredToken:         {"EXPIRED_TOKEN", "expired-token", http.StatusUnauthorized},
	CodeTokenMismatch:        {"TOKEN_MISMATCH", "token-mismatch", http.StatusUnauthorized},
	CodeInvalidCredentials:   {"INVALID_CREDENTIALS", "invalid-credentials", http.StatusUnauthorized},
	CodeAuthRequired:         {"AUTHENTICATION_REQUIRED", "authentication-required", http.StatusUnauthorized},
	CodeAuthenticationFailed: {"AUTHENTICATION_FAILED", "authentication-failed", http.StatusUnauthorized},
	CodeAccessDenied:         {"ACCESS_DENIED", "access-denied", http.StatusForbidden},
	CodeRateLimitExceeded:    {"RATE_LIMIT_EXCEEDED", "rate-limit-exceeded", http.StatusTooManyRequests},
	CodeTenantInvalid:        {"INVALID_TENANT", "invalid-tenant", http.StatusBadRequest},
	CodeTenantRequired:       {"TENANT_REQUIRED", "tenant-required", http.StatusBadRequest},
	CodeTenantForbidden:      {"TENANT_FORBIDDEN", "tenant-forbidden", http.StatusForbidden},
	CodeTenantNotFound:       {"TENANT_NOT_FOUND", "tenant-not-found", http.StatusNotFound},
	CodeInvalidRequest:       {"INVALID_REQUEST", "invalid-request", http.StatusBadRequest},
	CodeIllegalState:         {"ILLEGAL_STATE", "illegal-state", http.StatusInternalServerError},
	CodeInternal:             {"INTERNAL_ERROR", "internal-error", http.StatusInternalServerError},
}

// Title returns the upper-case error name used as the problem title.
func (c Code) Title() string {
	if info, ok := codes[c]; ok {
		return info.title
	}
	return codes[CodeInternal].title
}

// Slug returns the URL path segment identifying the error type.
func (c Code) Slug() string {
	if info, ok := codes[c]; ok {
		return info.slug
	}
	return codes[CodeInternal].slug
}

// Status returns the HTTP status code for the error code.
func (c Code) Status() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error is a classified security error.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel of the same kind, so that
// errors.Is(err, ErrExpiredToken) works for any *Error of that kind.
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

type sentinel struct {
	kind Kind
}

func (s *sentinel) Error() string { return s.kind.String() }

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidToken         error = &sentinel{KindInvalidToken}
	ErrExpiredToken         error = &sentinel{KindExpiredToken}
	ErrTokenMismatch        error = &sentinel{KindTokenMismatch}
	ErrInvalidCredentials   error = &sentinel{KindInvalidCredentials}
	ErrUnauthenticated      error = &sentinel{KindUnauthenticated}
	ErrAuthenticationFailed error = &sentinel{KindAuthenticationFailed}
	ErrAccessDenied         error = &sentinel{KindAccessDenied}
	ErrTenant               error = &sentinel{KindTenant}
	ErrIllegalState         error = &sentinel{KindIllegalState}
	ErrInvalidArgument      error = &sentinel{KindInvalidArgument}
)

// New creates an Error
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error wrapping an existing error
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// InvalidToken reports a malformed or mis-signed token.
func InvalidToken(cause error) *Error {
	return Wrap(KindInvalidToken, CodeInvalidToken, "invalid token", cause)
}

// ExpiredToken reports a correctly signed token past its expiry.
func ExpiredToken(cause error) *Error {
	return Wrap(KindExpiredToken, CodeExpiredToken, "token expired", cause)
}

// TokenMismatch reports a refresh token that is not the stored one.
func TokenMismatch() *Error {
	return New(KindTokenMismatch, CodeTokenMismatch, "refresh token already logged out or rotated")
}

// InvalidCredentials is returned for both unknown subjects and bad passwords.
func InvalidCredentials() *Error {
	return New(KindInvalidCredentials, CodeInvalidCredentials, "invalid email or password")
}

// Unauthenticated reports a protected route reached without credentials.
func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, CodeAuthRequired, message)
}

// AuthenticationFailed hides an infrastructure failure during authentication.
func AuthenticationFailed(cause error) *Error {
	return Wrap(KindAuthenticationFailed, CodeAuthenticationFailed, "authentication failed", cause)
}

// AccessDenied reports a failed permission check.
func AccessDenied(message string) *Error {
	return New(KindAccessDenied, CodeAccessDenied, message)
}

// RateLimited reports an exhausted rate-limit window.
func RateLimited() *Error {
	return New(KindAccessDenied, CodeRateLimitExceeded, "rate limit exceeded")
}

// TenantInvalid reports a malformed tenant identifier.
func TenantInvalid(message string) *Error {
	return New(KindTenant, CodeTenantInvalid, message)
}

// TenantRequired reports a missing tenant on a tenant-scoped route.
func TenantRequired() *Error {
	return New(KindTenant, CodeTenantRequired, "organization id is required")
}

// TenantForbidden reports a tenant the principal may not act in.
func TenantForbidden(message string) *Error {
	return New(KindTenant, CodeTenantForbidden, message)
}

// TenantNotFound reports an unknown organization.
func TenantNotFound(id int64) *Error {
	return New(KindTenant, CodeTenantNotFound, fmt.Sprintf("organization %d not found", id))
}

// InvalidRequest reports a malformed request body or parameter.
func InvalidRequest(message string) *Error {
	return New(KindInvalidArgument, CodeInvalidRequest, message)
}

// IllegalState reports a programming error such as a missing tenant binding.
func IllegalState(message string) *Error {
	return New(KindIllegalState, CodeIllegalState, message)
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return Wrap(KindInternal, CodeInternal, "internal server error", cause)
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when unclassified.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}
