package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"framegate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The directories are created, so preflight directory checks pass.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.TelemetryDir = filepath.Join(base, "telemetry")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SamplesDir = filepath.Join(base, "samples")
	cfgVal.Paths.WorkflowsDir = filepath.Join(base, "workflows")
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBackend points the config at a fake backend.
func WithBackend(f *FakeBackend) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.URL = f.URL()
		b.cfg.Backend.Dialect = config.DialectGeneric
	}
}

// WithFastTracking shrinks tracker bounds so real-clock tests finish quickly.
func WithFastTracking() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tracking.PollIntervalSeconds = 1
		b.cfg.Tracking.MaxWaitSeconds = 30
		b.cfg.Tracking.PostExecutionTimeoutSeconds = 1
		b.cfg.Retry.BackoffSeconds = 0
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
