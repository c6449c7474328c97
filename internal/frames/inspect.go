package frames

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"framegate/internal/services"
)

// Info is the subset of ffprobe output needed to validate a generated clip.
type Info struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	NBFrames   string `json:"nb_frames"`
	AvgFrameRt string `json:"avg_frame_rate"`
	Duration   string `json:"duration"`
}

// Format captures container-level metadata.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Inspect runs ffprobe against path.
func Inspect(ctx context.Context, binary, path string) (Info, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return Info{}, errors.New("ffprobe inspect: empty path")
	}
	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return Info{}, services.Wrap(services.ErrExternalTool, stageName, "ffprobe", detail, err)
	}
	var info Info
	if err := json.Unmarshal(output, &info); err != nil {
		return Info{}, services.Wrap(services.ErrDecode, stageName, "ffprobe", "parse output", err)
	}
	return info, nil
}

// VideoStream returns the first video stream.
func (i Info) VideoStream() (Stream, bool) {
	for _, s := range i.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return s, true
		}
	}
	return Stream{}, false
}

// DurationSeconds returns the container duration, 0 when absent, or NaN
// when unparsable.
func (i Info) DurationSeconds() float64 {
	return parseFloat(i.Format.Duration)
}

// FrameCount returns the video stream's frame count when ffprobe reports it.
func (i Info) FrameCount() int {
	s, ok := i.VideoStream()
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(s.NBFrames))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

func describe(s Stream) string {
	return fmt.Sprintf("%s %dx%d", s.CodecName, s.Width, s.Height)
}
