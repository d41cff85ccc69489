package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeInvalid          ErrorCode = "INVALID"
	ErrCodeAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrCodeAccountExists    ErrorCode = "ACCOUNT_EXISTS"
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInProgress       ErrorCode = "IN_PROGRESS"
	ErrCodeCorrupted        ErrorCode = "STORAGE_CORRUPTED"
	ErrCodeUnavailable      ErrorCode = "UNAVAILABLE"
	ErrCodeInternal         ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrUserNotFound         = NewError(ErrCodeNotFound, "user not found")
	ErrSessionNotFound      = NewError(ErrCodeNotFound, "session not found")
	ErrAuthenticationFailed = NewError(ErrCodeAuthFailed, "invalid email or password")
	ErrAccountAlreadyExists = NewError(ErrCodeAccountExists, "account already exists")
	ErrNotAuthenticated     = NewError(ErrCodeNotAuthenticated, "not authenticated")
	ErrOperationInProgress  = NewError(ErrCodeInProgress, "another session operation is in progress")
	ErrStorageCorrupted     = NewError(ErrCodeCorrupted, "persisted session state is corrupted")
	ErrRemoteUnavailable    = NewError(ErrCodeUnavailable, "backend unavailable")
	ErrInvalidPayload       = NewError(ErrCodeInvalid, "invalid payload")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}
