package imagedecode

import (
	"fmt"

	"framegate/internal/services"
)

// DecodeError reports corrupt, truncated, or unsupported input.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode png: %s: %v", e.Reason, e.Err)
	}
	return "decode png: " + e.Reason
}

// Unwrap exposes both the decode marker and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{services.ErrDecode, e.Err}
	}
	return []error{services.ErrDecode}
}

// ErrorKind implements services.ErrorClassifier.
func (e *DecodeError) ErrorKind() string { return "decode" }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

func decodeErrf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}
