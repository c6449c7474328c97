package logging

import (
	"context"
	"log/slog"

	"framegate/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for downstream filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the decision a log line records (verdict, retry, admission).
	FieldDecisionType = "decision_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, JobID(id))
	}
	if id, ok := services.SceneIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSceneID, id))
	}
	if id, ok := services.SampleIDFromContext(ctx); ok {
		fields = append(fields, SampleID(id))
	}
	if n, ok := services.AttemptFromContext(ctx); ok {
		fields = append(fields, Attempt(n))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
