package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSubmission         = errors.New("submission error")
	ErrNetwork            = errors.New("network error")
	ErrTimeout            = errors.New("timeout")
	ErrAttemptLimit       = errors.New("history attempt limit reached")
	ErrPostExecution      = errors.New("artifact not confirmed after execution")
	ErrBackend            = errors.New("backend error")
	ErrDecode             = errors.New("decode error")
	ErrResourceExhaustion = errors.New("resource exhaustion")
	ErrCancelled          = errors.New("cancelled")
	ErrValidation         = errors.New("validation error")
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
	ErrExternalTool       = errors.New("external tool error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrBackend
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorClassifier lets typed errors declare their own kind.
type ErrorClassifier interface {
	ErrorKind() string
}

// ErrorKind maps an error to the short kind string recorded in telemetry and
// the job store. Unknown errors map to "unknown"; nil maps to "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := strings.TrimSpace(classifier.ErrorKind()); kind != "" {
			return kind
		}
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrAttemptLimit):
		return "attempt_limit"
	case errors.Is(err, ErrPostExecution):
		return "post_execution"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrResourceExhaustion):
		return "resource_exhaustion"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrBackend):
		return "backend"
	default:
		return "unknown"
	}
}

// IsSetupFailure reports whether err means the run could not start at all
// (bad configuration, missing tools, unreadable fixtures) rather than a job
// producing a bad result.
func IsSetupFailure(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrExternalTool) || errors.Is(err, ErrNotFound)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
