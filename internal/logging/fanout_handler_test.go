package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Fatal("expected the single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsEachLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := TeeLogger(nil, infoHandler, debugHandler)

	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled when any handler accepts debug")
	}
	logger.Debug("poll tick")
	logger.Info("job submitted")

	if strings.Contains(infoBuf.String(), "poll tick") {
		t.Fatal("info handler received a debug record")
	}
	if !strings.Contains(debugBuf.String(), "poll tick") || !strings.Contains(debugBuf.String(), "job submitted") {
		t.Fatalf("debug handler missing records: %q", debugBuf.String())
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestFanoutHandlerKeepsWritingAfterAnError(t *testing.T) {
	var buf bytes.Buffer
	broken := failingHandler{slog.NewJSONHandler(&bytes.Buffer{}, nil)}
	h := newFanoutHandler(broken, slog.NewJSONHandler(&buf, nil))
	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "artifact fetched", 0))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if !strings.Contains(buf.String(), "artifact fetched") {
		t.Fatalf("second handler skipped: %q", buf.String())
	}
}

func TestTeeLoggerCarriesAttrsAndGroups(t *testing.T) {
	var baseBuf, jobBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, nil))
	logger := TeeLogger(base, slog.NewJSONHandler(&jobBuf, nil)).With("job_id", "abc").WithGroup("gpu")
	logger.Info("telemetry", "vram_free_mb", 4096)

	for name, buf := range map[string]*bytes.Buffer{"base": &baseBuf, "job": &jobBuf} {
		out := buf.String()
		if !strings.Contains(out, `"job_id":"abc"`) || !strings.Contains(out, `"gpu":{"vram_free_mb":4096}`) {
			t.Fatalf("%s output missing attrs: %q", name, out)
		}
	}
}
