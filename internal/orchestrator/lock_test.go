package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"framegate/internal/logging"
	"framegate/internal/orchestrator"
	"framegate/internal/services"
)

func TestBackendLockSerializesJobs(t *testing.T) {
	dir := t.TempDir()
	first := orchestrator.NewBackendLock(dir, "http://127.0.0.1:8188")
	release, err := first.Acquire(context.Background(), logging.NewNop())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	second := orchestrator.NewBackendLock(dir, "http://127.0.0.1:8188")
	if second.Path() != first.Path() {
		t.Fatalf("same backend must share a lock: %s vs %s", first.Path(), second.Path())
	}
	if held, err := second.Held(); err != nil || !held {
		t.Fatalf("expected lock to be held, held=%v err=%v", held, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := second.Acquire(ctx, logging.NewNop()); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled wait, got %v", err)
	}

	release()
	releaseSecond, err := second.Acquire(context.Background(), logging.NewNop())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	releaseSecond()

	other := orchestrator.NewBackendLock(dir, "http://gpu-2:8188")
	if other.Path() == first.Path() {
		t.Fatal("different backends must not share a lock")
	}
}
