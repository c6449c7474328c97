package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	if results[0].Path != present {
		t.Fatalf("resolved path = %q, want %q", results[0].Path, present)
	}
}

func TestMissing(t *testing.T) {
	statuses := []Status{
		{Name: "ffmpeg", Available: true},
		{Name: "ffprobe"},
		{Name: "nvidia-smi", Optional: true},
	}
	if got := Missing(statuses, false); len(got) != 1 || got[0].Name != "ffprobe" {
		t.Fatalf("required missing = %#v", got)
	}
	if got := Missing(statuses, true); len(got) != 2 {
		t.Fatalf("all missing = %#v", got)
	}
}

func TestCheckCompanionPrefersSibling(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	ffprobePath := filepath.Join(tmp, executableName("ffprobe"))
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(ffmpegPath, script, 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	if err := os.WriteFile(ffprobePath, script, 0o755); err != nil {
		t.Fatalf("write ffprobe sibling: %v", err)
	}

	status := CheckCompanion(ffmpegPath, "ffprobe", "artifact inspection")
	if !status.Available {
		t.Fatalf("expected ffprobe sibling to be available, got detail %q", status.Detail)
	}
	if status.Command != ffprobePath {
		t.Fatalf("expected ffprobe command %q, got %q", ffprobePath, status.Command)
	}
}

func TestCheckCompanionPathFallback(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(ffmpegPath, script, 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}

	binDir := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	ffprobePath := filepath.Join(binDir, executableName("ffprobe"))
	if err := os.WriteFile(ffprobePath, script, 0o755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	status := CheckCompanion(ffmpegPath, "ffprobe", "")
	if !status.Available {
		t.Fatalf("expected ffprobe fallback to be available, got detail %q", status.Detail)
	}
	if status.Command != ffprobePath {
		t.Fatalf("expected ffprobe command %q, got %q", ffprobePath, status.Command)
	}
}

func TestCheckCompanionNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	status := CheckCompanion(filepath.Join(t.TempDir(), "ffmpeg"), "ffprobe", "")
	if status.Available {
		t.Fatal("expected ffprobe resolution to fail")
	}
	if status.Detail == "" {
		t.Fatal("expected detail message when ffprobe is unavailable")
	}
}

func TestIsBareName(t *testing.T) {
	for cmd, want := range map[string]bool{
		"ffprobe":          true,
		"":                 false,
		"/usr/bin/ffprobe": false,
		"./tools/ffprobe":  false,
		" ffprobe ":        true,
	} {
		if got := IsBareName(cmd); got != want {
			t.Fatalf("IsBareName(%q) = %v, want %v", cmd, got, want)
		}
	}
}
