package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
)

var (
	ErrMalformedInput       = serializer.ErrMalformedInput
	ErrMissingOperationCode = errors.New("protocol: missing operation code")
	ErrMissingField         = errors.New("protocol: missing required field")
	ErrTypeMismatch         = document.ErrTypeMismatch
	ErrFrameKindMismatch    = frame.ErrKindMismatch
)

// MissingOperationCodeError carries the raw message that had no op field.
type MissingOperationCodeError struct {
	Raw []byte
}

func (e MissingOperationCodeError) Error() string {
	const max = 64
	raw := e.Raw
	if len(raw) > max {
		raw = raw[:max]
	}
	return fmt.Sprintf("protocol: missing operation code in %q", raw)
}

func (e MissingOperationCodeError) Unwrap() error {
	return ErrMissingOperationCode
}

// MissingFieldError indicates a required field was not present.
type MissingFieldError struct {
	Key string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("protocol: missing required field %q", e.Key)
}

func (e MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// TypeMismatchError indicates a field was present with the wrong kind.
type TypeMismatchError struct {
	Key  string
	Want document.Kind
	Got  document.Kind
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("protocol: field %q is %s, want %s", e.Key, e.Got, e.Want)
}

func (e TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// ErrorKind classifies err for metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, ErrMissingOperationCode):
		return "missing_op"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrFrameKindMismatch):
		return "frame_kind"
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return "too_large"
	default:
		return "other"
	}
}
