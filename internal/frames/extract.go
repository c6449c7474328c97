package frames

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"framegate/internal/config"
	"framegate/internal/deps"
	"framegate/internal/logging"
	"framegate/internal/services"
)

const stageName = "frames"

var imageExt = map[string]bool{".png": true}

// Boundary holds the encoded first and last frames of an artifact.
type Boundary struct {
	First []byte
	Last  []byte
	// FrameCount is the frame count reported by ffprobe, 0 when unknown.
	FrameCount int
}

// Extractor pulls boundary frames out of generated artifacts.
type Extractor struct {
	ffmpeg  string
	ffprobe string
	workDir string
	logger  *slog.Logger
}

// NewExtractor builds an extractor. Temporary frames are written under
// workDir, or the system temp directory when it is empty.
func NewExtractor(ffmpegBinary, ffprobeBinary, workDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{
		ffmpeg:  defaultString(ffmpegBinary, "ffmpeg"),
		ffprobe: defaultString(ffprobeBinary, "ffprobe"),
		workDir: workDir,
		logger:  logging.NewComponentLogger(logger, stageName),
	}
}

// NewFromConfig builds an extractor from the ffmpeg and paths sections. A
// bare ffprobe name prefers the binary shipped next to ffmpeg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Extractor {
	ffprobe := cfg.FFmpeg.FFprobeBinary
	if deps.IsBareName(ffprobe) {
		if status := deps.CheckCompanion(cfg.FFmpeg.FFmpegBinary, ffprobe, ""); status.Available {
			ffprobe = status.Command
		}
	}
	return NewExtractor(cfg.FFmpeg.FFmpegBinary, ffprobe, cfg.Paths.WorkDir, logger)
}

// ExtractBoundary returns the first and last frame of artifactPath as PNG
// bytes. A PNG artifact is its own first and last frame.
func (e *Extractor) ExtractBoundary(ctx context.Context, artifactPath string) (Boundary, error) {
	if imageExt[strings.ToLower(filepath.Ext(artifactPath))] {
		data, err := readFrame(artifactPath)
		if err != nil {
			return Boundary{}, err
		}
		return Boundary{First: data, Last: data, FrameCount: 1}, nil
	}

	info, err := Inspect(ctx, e.ffprobe, artifactPath)
	if err != nil {
		return Boundary{}, err
	}
	stream, ok := info.VideoStream()
	if !ok {
		return Boundary{}, services.Wrap(services.ErrDecode, stageName, "inspect",
			fmt.Sprintf("%s has no video stream", filepath.Base(artifactPath)), nil)
	}

	tmpDir, err := os.MkdirTemp(e.workDir, "frames-")
	if err != nil {
		return Boundary{}, fmt.Errorf("create frame directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	firstPath := filepath.Join(tmpDir, "first.png")
	lastPath := filepath.Join(tmpDir, "last.png")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.run(gctx, "-v", "error", "-y", "-i", artifactPath, "-frames:v", "1", "-pix_fmt", "rgb24", firstPath)
	})
	g.Go(func() error {
		return e.run(gctx, "-v", "error", "-y", "-sseof", "-1", "-i", artifactPath, "-update", "1", "-pix_fmt", "rgb24", lastPath)
	})
	if err := g.Wait(); err != nil {
		return Boundary{}, err
	}

	boundary := Boundary{FrameCount: info.FrameCount()}
	if boundary.First, err = readFrame(firstPath); err != nil {
		return Boundary{}, err
	}
	if boundary.Last, err = readFrame(lastPath); err != nil {
		return Boundary{}, err
	}
	e.logger.Debug("boundary frames extracted",
		logging.String("artifact", artifactPath),
		logging.String("stream", describe(stream)),
		logging.Int("frame_count", boundary.FrameCount))
	return boundary, nil
}

// FromSequence returns the boundary of an image-sequence output: the first
// and last PNG in lexical order.
func FromSequence(paths []string) (Boundary, error) {
	var frames []string
	for _, p := range paths {
		if imageExt[strings.ToLower(filepath.Ext(p))] {
			frames = append(frames, p)
		}
	}
	if len(frames) == 0 {
		return Boundary{}, services.Wrap(services.ErrDecode, stageName, "sequence", "no PNG frames in output", nil)
	}
	sort.Strings(frames)
	first, err := readFrame(frames[0])
	if err != nil {
		return Boundary{}, err
	}
	last, err := readFrame(frames[len(frames)-1])
	if err != nil {
		return Boundary{}, err
	}
	return Boundary{First: first, Last: last, FrameCount: len(frames)}, nil
}

func (e *Extractor) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, stageName, "ffmpeg", "extraction cancelled", ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, stageName, "ffmpeg", strings.TrimSpace(string(output)), err)
	}
	return nil
}

func readFrame(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrDecode, stageName, "read frame", fmt.Sprintf("%s was not produced", filepath.Base(path)), err)
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrDecode, stageName, "read frame", fmt.Sprintf("%s is empty", filepath.Base(path)), nil)
	}
	return data, nil
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
