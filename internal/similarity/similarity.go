// Package similarity scores how closely two pixel buffers match.
//
// The score is 100*(1 - mean/255), where mean is the mean absolute byte
// difference over the shorter buffer. It is deliberately simple: symmetric,
// reflexive (identical buffers score 100), bounded to [0,100], and total over
// any pair of inputs including mismatched lengths.
package similarity

import (
	"math"

	"framegate/internal/imagedecode"
)

// Score returns the byte-wise similarity of a and b in [0,100]. Only the
// first min(len(a), len(b)) bytes are compared; an empty comparison scores 0.
func Score(a, b []byte) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var total uint64
	for i := 0; i < n; i++ {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		total += uint64(d)
	}
	mean := float64(total) / float64(n)
	return clamp(100 * (1 - mean/255))
}

// ScoreBuffers scores two decoded frames. Shape differences are tolerated:
// the comparison covers the overlapping prefix of the sample data.
func ScoreBuffers(a, b imagedecode.PixelBuffer) float64 {
	return Score(a.Data, b.Data)
}

// Result holds the boundary-frame similarity for one generated clip.
type Result struct {
	StartSimilarity   float64 `json:"startSimilarity"`
	EndSimilarity     float64 `json:"endSimilarity"`
	AverageSimilarity float64 `json:"averageSimilarity"`
}

// NewResult builds a Result from the two boundary scores.
func NewResult(start, end float64) Result {
	start, end = clamp(start), clamp(end)
	return Result{
		StartSimilarity:   start,
		EndSimilarity:     end,
		AverageSimilarity: (start + end) / 2,
	}
}

// Compare scores the generated clip's first frame against the start keyframe
// and its last frame against the end keyframe.
func Compare(startKeyframe, firstFrame, endKeyframe, lastFrame imagedecode.PixelBuffer) Result {
	return NewResult(ScoreBuffers(startKeyframe, firstFrame), ScoreBuffers(endKeyframe, lastFrame))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
