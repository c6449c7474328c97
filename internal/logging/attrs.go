package logging

import (
	"context"
	"log/slog"
	"time"
)

// Keys for the identifiers a generation job carries through its log lines.
const (
	// FieldJobID is the orchestrator's job identifier.
	FieldJobID = "job_id"
	// FieldBackendJobID is the identifier the generation backend assigned.
	FieldBackendJobID = "backend_job_id"
	// FieldSceneID is the scene a job renders.
	FieldSceneID = "scene_id"
	// FieldSampleID is the golden sample a job checks.
	FieldSampleID = "sample_id"
	// FieldAttempt is the 1-based submission attempt.
	FieldAttempt = "attempt"
	// FieldErrorKind carries services.ErrorKind for a failed operation.
	FieldErrorKind = "error_kind"
	// FieldVerdict is the PASS/WARN/FAIL outcome of the quality gate.
	FieldVerdict = "verdict"
	// FieldAlert marks lines that should stand out, such as unscored artifacts.
	FieldAlert = "alert"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// JobID tags a line with the orchestrator job.
func JobID(id string) Attr { return slog.String(FieldJobID, id) }

// BackendJobID tags a line with the backend's handle for the job.
func BackendJobID(id string) Attr { return slog.String(FieldBackendJobID, id) }

// SampleID tags a line with a golden sample.
func SampleID(id string) Attr { return slog.String(FieldSampleID, id) }

// Attempt tags a line with the submission attempt number.
func Attempt(n int) Attr { return slog.Int(FieldAttempt, n) }

// ErrorKind tags a line with the error classification recorded in telemetry.
func ErrorKind(kind string) Attr { return slog.String(FieldErrorKind, kind) }

// Verdict tags a line with a quality verdict.
func Verdict(v string) Attr { return slog.String(FieldVerdict, v) }

func Alert(value string) Attr { return slog.String(FieldAlert, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs to the variadic form slog.Logger methods take.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

func hasKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// withDefault appends key=value unless attrs already carries key.
func withDefault(attrs []Attr, key, value string) []Attr {
	if hasKey(attrs, key) {
		return attrs
	}
	return append(attrs, String(key, value))
}

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact, filling generic values for any the caller left out.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, FieldEventType, eventType)
	attrs = withDefault(attrs, FieldErrorHint, "check logs for details")
	attrs = withDefault(attrs, FieldImpact, "operation completed with warnings")
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, FieldEventType, eventType)
	attrs = withDefault(attrs, FieldErrorHint, "check logs for details")
	logger.Error(msg, Args(attrs...)...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }

// DecisionAttrs builds the decision_type/decision_result/decision_reason
// triple used for gate, retry, and admission decisions.
func DecisionAttrs(decisionType, result, reason string) []Attr {
	return []Attr{
		String(FieldDecisionType, decisionType),
		String("decision_result", result),
		String("decision_reason", reason),
	}
}
