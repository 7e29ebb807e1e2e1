package message

import (
	"errors"
	"fmt"
)

// CodecErrorCode categorizes codec failures.
type CodecErrorCode string

const (
	// ErrCodeInvalidMessageType indicates the wire type differs from the
	// type the caller asked for.
	ErrCodeInvalidMessageType CodecErrorCode = "INVALID_MESSAGE_TYPE"

	// ErrCodeUnknownType indicates no constructor is registered for the type.
	ErrCodeUnknownType CodecErrorCode = "UNKNOWN_MESSAGE_TYPE"

	// ErrCodeEmptyPayload indicates a type that mandates a document has none.
	ErrCodeEmptyPayload CodecErrorCode = "EMPTY_PAYLOAD"

	// ErrCodeInvalidMessage indicates malformed JSON or a failed Validate.
	ErrCodeInvalidMessage CodecErrorCode = "INVALID_MESSAGE"
)

// CodecError is a validation or decoding failure. It never reaches the
// ledger: messages that produce one are not published.
type CodecError struct {
	Code    CodecErrorCode
	Message string
	Type    Type   // message type involved, if known
	Field   string // offending field, if known
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (type=%s, field=%s)", e.Code, e.Message, e.Type, e.Field)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isCode(err error, code CodecErrorCode) bool {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsInvalidType returns true if err reports a type mismatch or unknown type.
// Uses errors.As to handle wrapped errors.
func IsInvalidType(err error) bool {
	return isCode(err, ErrCodeInvalidMessageType) || isCode(err, ErrCodeUnknownType)
}

// IsEmptyPayload returns true if err reports a missing mandatory document.
func IsEmptyPayload(err error) bool {
	return isCode(err, ErrCodeEmptyPayload)
}

// IsInvalidMessage returns true if err reports malformed or invalid content.
func IsInvalidMessage(err error) bool {
	return isCode(err, ErrCodeInvalidMessage)
}

// IsCodecError returns true for any CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

func newInvalidTypeError(want, got Type) *CodecError {
	return &CodecError{
		Code:    ErrCodeInvalidMessageType,
		Message: fmt.Sprintf("expected %q, got %q", want, got),
		Type:    got,
	}
}

func newEmptyPayloadError(t Type, field string) *CodecError {
	return &CodecError{
		Code:    ErrCodeEmptyPayload,
		Message: "required document is missing",
		Type:    t,
		Field:   field,
	}
}

func newInvalidMessageError(t Type, field, msg string) *CodecError {
	return &CodecError{
		Code:    ErrCodeInvalidMessage,
		Message: msg,
		Type:    t,
		Field:   field,
	}
}
