package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger failures.
type ErrorCode string

const (
	// Transient codes. The worker pool retries these.
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeBusy        ErrorCode = "BUSY"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Permanent codes. Reported immediately, never retried.
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidAccount      ErrorCode = "INVALID_ACCOUNT"
	ErrCodeInvalidSignature    ErrorCode = "INVALID_SIGNATURE"
	ErrCodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	ErrCodeTopicNotFound       ErrorCode = "TOPIC_NOT_FOUND"
)

// Error is a failure reported by the ledger for a single operation.
type Error struct {
	Code ErrorCode
	Op   string // "mint", "transfer", "wipe", "submit", ...
	Err  error  // underlying cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("ledger %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same operation may succeed.
func (e *Error) Transient() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeBusy, ErrCodeRateLimited:
		return true
	}
	return false
}

// NewError creates a ledger Error.
func NewError(op string, code ErrorCode, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// IsTransient returns true if err is a transient ledger error.
// Uses errors.As to handle wrapped errors. Errors that did not come from
// the ledger are treated as permanent.
func IsTransient(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Transient()
	}
	return false
}

// CodeOf extracts the ledger error code, or "" if err is not a ledger error.
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
