// Package apperr defines the stable error codes surfaced to callers.
//
// Every failure leaving the service is an *Error carrying a string code, an HTTP
// status and a class. Policy errors are expected outcomes (rate limits, lockouts,
// claim rejections); transient errors may be retried; invariant errors abort the
// single operation and must be logged with context.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Class groups codes by how a caller should react.
type Class int

const (
	ClassPolicy Class = iota + 1
	ClassTransient
	ClassInvariant
)

func (c Class) String() string {
	switch c {
	case ClassPolicy:
		return "policy"
	case ClassTransient:
		return "transient"
	case ClassInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Stable codes. Never renumber: clients match on these strings.
const (
	CodeOTPRateLimited      = "AUTH_001"
	CodeOTPLocked           = "AUTH_002"
	CodeInvalidOTP          = "AUTH_003"
	CodeUnauthorized        = "AUTH_004"
	CodeServerError         = "GEN_001"
	CodeNotFound            = "GEN_002"
	CodeInvalidRequest      = "REQ_001"
	CodeNotEligible         = "REWARD_001"
	CodeAlreadyClaimed      = "REWARD_002"
	CodeExpired             = "REWARD_003"
	CodeAlreadyGranted      = "LEDGER_001"
	CodeInsufficientCredits = "LEDGER_002"
	CodeRequestRateLimited  = "RATE_001"
)

// Error is the typed result for every failed operation.
type Error struct {
	Code    string
	Status  int
	Message string
	Class   Class
	// Retriable is set on transient failures the caller may re-drive.
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so errors.Is(err, apperr.ErrOTPLocked) works on wrapped copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying err as cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func policy(code string, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg, Class: ClassPolicy}
}

var (
	ErrOTPRateLimited      = policy(CodeOTPRateLimited, http.StatusTooManyRequests, "OTP_RATE_LIMIT_EXCEEDED")
	ErrOTPLocked           = policy(CodeOTPLocked, http.StatusLocked, "OTP_MAX_ATTEMPTS_BLOCKED")
	ErrInvalidOTP          = policy(CodeInvalidOTP, http.StatusUnauthorized, "INVALID_OTP")
	ErrUnauthorized        = policy(CodeUnauthorized, http.StatusUnauthorized, "unauthorized")
	ErrNotFound            = policy(CodeNotFound, http.StatusNotFound, "not found")
	ErrInvalidRequest      = policy(CodeInvalidRequest, http.StatusBadRequest, "invalid request")
	ErrNotEligible         = policy(CodeNotEligible, http.StatusConflict, "NOT_ELIGIBLE")
	ErrAlreadyClaimed      = policy(CodeAlreadyClaimed, http.StatusConflict, "ALREADY_CLAIMED")
	ErrExpired             = policy(CodeExpired, http.StatusGone, "EXPIRED")
	ErrAlreadyGranted      = policy(CodeAlreadyGranted, http.StatusOK, "ALREADY_GRANTED")
	ErrInsufficientCredits = policy(CodeInsufficientCredits, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS")
	ErrRequestRateLimited  = policy(CodeRequestRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
)

// Transient wraps an infrastructure failure as a retriable SERVER_ERROR.
func Transient(err error) *Error {
	return &Error{
		Code:      CodeServerError,
		Status:    http.StatusInternalServerError,
		Message:   "SERVER_ERROR",
		Class:     ClassTransient,
		Retriable: true,
		Err:       err,
	}
}

// Invariant reports a programming or data invariant violation.
func Invariant(format string, args ...any) *Error {
	return &Error{
		Code:    CodeServerError,
		Status:  http.StatusInternalServerError,
		Message: "SERVER_ERROR",
		Class:   ClassInvariant,
		Err:     fmt.Errorf(format, args...),
	}
}

// InvalidRequest is a REQ_001 with a specific message.
func InvalidRequest(format string, args ...any) *Error {
	return ErrInvalidRequest.WithMessage(format, args...)
}

// From maps any error onto an *Error. Unknown errors become transient GEN_001.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Transient(err)
}

// IsPolicy reports whether err is an expected policy outcome.
func IsPolicy(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Class == ClassPolicy
}

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Class == ClassInvariant
}

// IsTimeout reports whether err stems from a caller deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
