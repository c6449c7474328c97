package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	sceneIDKey   contextKey = "scene_id"
	sampleIDKey  contextKey = "sample_id"
	attemptKey   contextKey = "attempt"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the orchestrator job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSceneID annotates context with the scene the job renders.
func WithSceneID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sceneIDKey, id)
}

// SceneIDFromContext returns the scene identifier if present.
func SceneIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sceneIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSampleID annotates context with the golden sample under evaluation.
func WithSampleID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sampleIDKey, id)
}

// SampleIDFromContext returns the golden sample identifier if present.
func SampleIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sampleIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAttempt annotates context with the 1-based submission attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptFromContext returns the submission attempt number if present.
func AttemptFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
