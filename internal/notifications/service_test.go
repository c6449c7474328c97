package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"framegate/internal/config"
	"framegate/internal/notifications"
	"framegate/internal/quality"
	"framegate/internal/similarity"
)

type captured struct {
	title, tags, priority, body string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		msgs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		msgs = append(msgs, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), msgs...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "batch"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, messages := newNtfyServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	baseline := quality.Uncalibrated("harbor", quality.Thresholds{Fail: 25, Warn: 35})
	fail := quality.Evaluate(similarity.NewResult(20, 10), baseline)
	if err := svc.NotifyVerdict(ctx, "Harbor Dawn", fail, quality.DecisionBlockOverride); err != nil {
		t.Fatalf("NotifyVerdict: %v", err)
	}
	if err := svc.NotifyOverrideRequired(ctx, "", quality.Degraded("harbor", "artifact is not a PNG")); err != nil {
		t.Fatalf("NotifyOverrideRequired: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, notifications.BatchSummary{Total: 3, Passed: 2, Failed: 1, ExitCode: 1, Duration: 90 * time.Second}); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}

	got := messages()
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	if got[0].title != "framegate - FAIL" || got[0].priority != "high" || got[0].tags != "framegate,verdict,fail" {
		t.Fatalf("unexpected verdict headers %+v", got[0])
	}
	if !strings.Contains(got[0].body, "Harbor Dawn: FAIL (average 15.00") || !strings.Contains(got[0].body, "Decision: block_override") {
		t.Fatalf("unexpected verdict body %q", got[0].body)
	}
	if !strings.Contains(got[1].body, "harbor was blocked") || !strings.Contains(got[1].body, "could not evaluate: artifact is not a PNG") {
		t.Fatalf("unexpected override body %q", got[1].body)
	}
	if got[2].title != "framegate - Batch Failed" || !strings.Contains(got[2].body, "3 samples in 1m30s: 2 pass, 0 warn, 1 fail, 0 errored (exit 1)") {
		t.Fatalf("unexpected batch message %+v", got[2])
	}
	if got[3].priority != "low" {
		t.Fatalf("unexpected test message %+v", got[3])
	}
}

func TestEventFamiliesCanBeDisabled(t *testing.T) {
	srv, messages := newNtfyServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Verdicts = false
	cfg.Notifications.Batch = false
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	_ = svc.NotifyVerdict(ctx, "x", quality.Degraded("x", "no frames"), quality.DecisionWarnAccept)
	_ = svc.NotifyBatchCompleted(ctx, notifications.BatchSummary{Total: 1})
	if err := svc.NotifyError(ctx, errors.New("backend offline"), "preflight"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}
	got := messages()
	if len(got) != 1 || got[0].body != "Error with preflight: backend offline" {
		t.Fatalf("unexpected messages %+v", got)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer srv.Close()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected http error, got %v", err)
	}
}
