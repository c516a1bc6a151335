package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable failure code surfaced to callers.
type Code string

const (
	CodeInvalidCredential      Code = "invalid_credential"
	CodeExpired                Code = "expired"
	CodeRevoked                Code = "revoked"
	CodeNotFound               Code = "not_found"
	CodeAccountDisabled        Code = "account_disabled"
	CodeRoleDisabled           Code = "role_disabled"
	CodeStale                  Code = "stale"
	CodeInsufficientPermission Code = "insufficient_permission"
	CodeEscalationDenied       Code = "escalation_denied"
	CodeThrottleExceeded       Code = "throttle_exceeded"
	CodeStoreUnavailable       Code = "store_unavailable"
	CodeInternal               Code = "internal"
)

// Error is an expected operational failure with a stable code and the
// HTTP-equivalent status the boundary should map it to.
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so wrapped errors compare
// against the package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors for the gatekeeping taxonomy. Wrap with fmt.Errorf("%w")
// to attach detail while keeping errors.Is matching.
var (
	ErrInvalidCredential = &Error{Code: CodeInvalidCredential, Status: http.StatusUnauthorized, Message: "credential is malformed or its signature is invalid"}
	ErrExpired           = &Error{Code: CodeExpired, Status: http.StatusUnauthorized, Message: "credential has expired"}
	ErrRevoked           = &Error{Code: CodeRevoked, Status: http.StatusUnauthorized, Message: "credential has been revoked"}
	ErrNotFound          = &Error{Code: CodeNotFound, Status: http.StatusUnauthorized, Message: "identity not found"}
	ErrAccountDisabled   = &Error{Code: CodeAccountDisabled, Status: http.StatusForbidden, Message: "account is not active"}
	ErrRoleDisabled      = &Error{Code: CodeRoleDisabled, Status: http.StatusForbidden, Message: "role is not active"}
	ErrStale             = &Error{Code: CodeStale, Status: http.StatusUnauthorized, Message: "credential predates the last secret change"}
	ErrInsufficient      = &Error{Code: CodeInsufficientPermission, Status: http.StatusForbidden, Message: "insufficient permission"}
	ErrEscalationDenied  = &Error{Code: CodeEscalationDenied, Status: http.StatusForbidden, Message: "cannot assign a role at or above your own authority"}
	ErrThrottleExceeded  = &Error{Code: CodeThrottleExceeded, Status: http.StatusTooManyRequests, Message: "too many requests"}
	ErrStoreUnavailable  = &Error{Code: CodeStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "temporary failure, try again"}
)

// CodeOf extracts the stable code from an error chain, or CodeInternal for
// unexpected errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf extracts the HTTP-equivalent status from an error chain, or 500
// for unexpected errors.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
