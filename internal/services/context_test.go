package services_test

import (
	"context"
	"testing"

	"framegate/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithSceneID(ctx, "scene-7")
	ctx = services.WithSampleID(ctx, "sunrise")
	ctx = services.WithAttempt(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if id, ok := services.SceneIDFromContext(ctx); !ok || id != "scene-7" {
		t.Fatalf("unexpected scene id: %v %v", id, ok)
	}
	if id, ok := services.SampleIDFromContext(ctx); !ok || id != "sunrise" {
		t.Fatalf("unexpected sample id: %v %v", id, ok)
	}
	if n, ok := services.AttemptFromContext(ctx); !ok || n != 2 {
		t.Fatalf("unexpected attempt: %v %v", n, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "")
	ctx = services.WithSceneID(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
	if _, ok := services.SceneIDFromContext(ctx); ok {
		t.Fatal("expected no scene id value")
	}
	if _, ok := services.AttemptFromContext(ctx); ok {
		t.Fatal("expected no attempt value")
	}
}
