package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"framegate/internal/logging"
	"framegate/internal/tracker"
)

// Recorder captures GPU readings and persists telemetry records.
type Recorder struct {
	dir    string
	probe  ChainProbe
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder writes records under dir and reads GPU memory through probes
// in order.
func NewRecorder(dir string, logger *slog.Logger, probes ...GPUProbe) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{
		dir:    dir,
		probe:  ChainProbe(probes),
		logger: logging.NewComponentLogger(logger, "telemetry"),
		now:    time.Now,
	}
}

// Dir returns the output directory.
func (r *Recorder) Dir() string { return r.dir }

// CaptureBefore records the pre-job GPU reading on rec.
func (r *Recorder) CaptureBefore(ctx context.Context, rec *Record) {
	if snap, ok := r.capture(ctx, rec, "before"); ok {
		rec.GPU.SetBefore(snap)
	}
}

// CaptureAfter records the post-job GPU reading on rec.
func (r *Recorder) CaptureAfter(ctx context.Context, rec *Record) {
	if snap, ok := r.capture(ctx, rec, "after"); ok {
		rec.GPU.SetAfter(snap)
	}
}

func (r *Recorder) capture(ctx context.Context, rec *Record, phase string) (Snapshot, bool) {
	if len(r.probe) == 0 {
		return Snapshot{}, false
	}
	snap, notes, ok := r.probe.Capture(ctx, phase)
	if len(notes) > 0 {
		rec.AddFallbackNotes(notes...)
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "gpu probe degraded", "telemetry_probe_fallback",
			logging.String("phase", phase),
			logging.String("notes", strings.Join(notes, "; ")),
			logging.String(logging.FieldErrorHint, "check the backend system_stats route or nvidia-smi"),
			logging.String(logging.FieldImpact, "vram readings may be missing or approximate"))
	}
	return snap, ok
}

// Write persists rec as <dir>/<jobId>.json via a temp file and rename, and
// returns the final path.
func (r *Recorder) Write(rec *Record) (string, error) {
	if rec == nil || strings.TrimSpace(rec.JobID) == "" {
		return "", errors.New("telemetry record requires a job id")
	}
	if rec.FallbackNotes == nil {
		rec.FallbackNotes = []string{}
	}
	// Jobs stopped before tracking never saw a history exit.
	if !rec.HistoryExitReason.Valid() {
		rec.HistoryExitReason = tracker.ExitUnknown
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now().UTC()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal telemetry: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create telemetry directory: %w", err)
	}
	path := filepath.Join(r.dir, rec.JobID+".json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	r.logger.Debug("telemetry written",
		logging.JobID(rec.JobID),
		logging.String("path", path))
	return path, nil
}

// Read loads one record.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse telemetry %s: %w", path, err)
	}
	return &rec, nil
}

// List loads every record in dir, newest first. Unreadable files are skipped.
func List(dir string) ([]*Record, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(matches))
	for _, path := range matches {
		rec, err := Read(path)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})
	return records, nil
}
