// Package errors defines the service error taxonomy and its HTTP mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error kind.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeNotAuthorized     ErrorCode = "NOT_AUTHORIZED"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	CodeAlreadyAssigned   ErrorCode = "ALREADY_ASSIGNED"
	CodeHalted            ErrorCode = "HALTED"
	CodeReentrant         ErrorCode = "REENTRANT_CALL"
	CodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeInternal          ErrorCode = "INTERNAL"
)

// Sentinels usable with errors.Is against any *ServiceError of the same code.
var (
	ErrNotFound          = &ServiceError{Code: CodeNotFound}
	ErrNotAuthorized     = &ServiceError{Code: CodeNotAuthorized}
	ErrInvalidTransition = &ServiceError{Code: CodeInvalidTransition}
	ErrInvalidInput      = &ServiceError{Code: CodeInvalidInput}
	ErrInsufficientFunds = &ServiceError{Code: CodeInsufficientFunds}
	ErrAlreadyAssigned   = &ServiceError{Code: CodeAlreadyAssigned}
	ErrHalted            = &ServiceError{Code: CodeHalted}
	ErrReentrant         = &ServiceError{Code: CodeReentrant}
)

// ServiceError is the typed error returned by every core operation.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches on error code so callers can compare against the sentinels.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code ErrorCode, status int, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...), HTTPStatus: status}
}

// NotFound reports a missing product, account entry or role.
func NotFound(format string, args ...interface{}) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, format, args...)
}

// NotAuthorized reports a caller lacking the required role or ownership.
func NotAuthorized(format string, args ...interface{}) *ServiceError {
	return newError(CodeNotAuthorized, http.StatusForbidden, format, args...)
}

// InvalidTransition reports a lifecycle rule violation.
func InvalidTransition(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidTransition, http.StatusConflict, format, args...)
}

// InvalidInput reports malformed or out-of-range arguments.
func InvalidInput(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, format, args...)
}

// InsufficientFunds reports a debit that would underflow a balance.
func InsufficientFunds(format string, args ...interface{}) *ServiceError {
	return newError(CodeInsufficientFunds, http.StatusPaymentRequired, format, args...)
}

// AlreadyAssigned reports a repeated role selection or assignment.
func AlreadyAssigned(format string, args ...interface{}) *ServiceError {
	return newError(CodeAlreadyAssigned, http.StatusConflict, format, args...)
}

// Halted reports that the halt switch rejects mutations.
func Halted() *ServiceError {
	return newError(CodeHalted, http.StatusServiceUnavailable, "mutations are halted")
}

// Reentrant reports a mutating call issued while another is still in flight.
func Reentrant(class string) *ServiceError {
	return newError(CodeReentrant, http.StatusConflict, "re-entrant call while %s operation in flight", class).
		WithDetails("operation_class", class)
}

// Unauthenticated reports a missing or invalid caller identity.
func Unauthenticated(message string) *ServiceError {
	return newError(CodeUnauthenticated, http.StatusUnauthorized, "%s", message)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded").
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	e := newError(CodeInternal, http.StatusInternalServerError, "%s", message)
	e.Err = err
	return e
}

// GetServiceError extracts a *ServiceError from err, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the error code for err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if se := GetServiceError(err); se != nil {
		return se.Code
	}
	return CodeInternal
}
