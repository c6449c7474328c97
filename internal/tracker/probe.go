package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"framegate/internal/services/backend"
)

// ArtifactProbe confirms that a reported output is readable.
type ArtifactProbe interface {
	Confirm(ctx context.Context, out backend.Output) (bool, error)
}

// ProbeFunc adapts a function to ArtifactProbe.
type ProbeFunc func(ctx context.Context, out backend.Output) (bool, error)

// Confirm calls f.
func (f ProbeFunc) Confirm(ctx context.Context, out backend.Output) (bool, error) {
	return f(ctx, out)
}

// LocalFileProbe confirms outputs that exist with a non-zero size under Root,
// the backend's output directory as seen from this host.
type LocalFileProbe struct {
	Root string
}

// Confirm implements ArtifactProbe.
func (p LocalFileProbe) Confirm(_ context.Context, out backend.Output) (bool, error) {
	target, err := resolveOutputPath(p.Root, out.Path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// LocalPath returns where the output lives under Root.
func (p LocalFileProbe) LocalPath(out backend.Output) (string, error) {
	return resolveOutputPath(p.Root, out.Path)
}

func resolveOutputPath(root, rel string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("output root not configured")
	}
	cleaned := path.Clean("/" + filepath.ToSlash(rel))
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

// ViewChecker is the backend call used by ViewProbe.
type ViewChecker interface {
	ArtifactAvailable(ctx context.Context, out backend.Output) (bool, error)
}

// ViewProbe confirms outputs through the backend's view route.
type ViewProbe struct {
	Backend ViewChecker
}

// Confirm implements ArtifactProbe.
func (p ViewProbe) Confirm(ctx context.Context, out backend.Output) (bool, error) {
	if p.Backend == nil {
		return false, errors.New("view probe has no backend")
	}
	return p.Backend.ArtifactAvailable(ctx, out)
}

// DoneMarker is the payload a backend-side node writes as <prefix>.done once
// every frame of an output has been flushed.
type DoneMarker struct {
	Timestamp  string `json:"Timestamp"`
	FrameCount *int   `json:"FrameCount,omitempty"`
}

var counterSuffix = regexp.MustCompile(`_\d+_?$`)

// MarkerPrefix derives the marker prefix from an output file name by dropping
// the extension and the backend's frame counter suffix.
func MarkerPrefix(out backend.Output) string {
	name := out.Filename()
	name = strings.TrimSuffix(name, path.Ext(name))
	return counterSuffix.ReplaceAllString(name, "")
}

// DoneMarkerProbe confirms outputs whose done marker is present under Root.
// Prefix overrides the derived marker prefix when set.
type DoneMarkerProbe struct {
	Root   string
	Prefix string
}

// Confirm implements ArtifactProbe.
func (p DoneMarkerProbe) Confirm(_ context.Context, out backend.Output) (bool, error) {
	prefix := strings.TrimSpace(p.Prefix)
	if prefix == "" {
		prefix = MarkerPrefix(out)
	}
	dir, err := resolveOutputPath(p.Root, out.Subfolder())
	if err != nil {
		return false, err
	}
	marker, err := ReadDoneMarker(filepath.Join(dir, prefix+".done"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return marker.Timestamp != "", nil
}

// ReadDoneMarker parses a done marker file.
func ReadDoneMarker(markerPath string) (DoneMarker, error) {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return DoneMarker{}, err
	}
	var marker DoneMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return DoneMarker{}, fmt.Errorf("parse done marker %s: %w", markerPath, err)
	}
	return marker, nil
}

// WriteDoneMarker writes <dir>/<prefix>.done atomically via a temp file.
func WriteDoneMarker(dir, prefix string, frameCount *int, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create marker directory: %w", err)
	}
	data, err := json.Marshal(DoneMarker{Timestamp: now.UTC().Format(time.RFC3339), FrameCount: frameCount})
	if err != nil {
		return "", fmt.Errorf("marshal done marker: %w", err)
	}
	final := filepath.Join(dir, prefix+".done")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write done marker: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename done marker: %w", err)
	}
	return final, nil
}

// AnyProbe confirms when any of its probes confirms. Probe errors are
// collected and returned only when nothing confirmed.
type AnyProbe []ArtifactProbe

// Confirm implements ArtifactProbe.
func (probes AnyProbe) Confirm(ctx context.Context, out backend.Output) (bool, error) {
	var errs []error
	for _, probe := range probes {
		if probe == nil {
			continue
		}
		ok, err := probe.Confirm(ctx, out)
		if ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}
