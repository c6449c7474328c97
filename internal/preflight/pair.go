package preflight

import (
	"bytes"
	"fmt"

	"framegate/internal/imagedecode"
	"framegate/internal/services"
)

// PairOptions tunes CheckPair.
type PairOptions struct {
	// MinDimension rejects images narrower or shorter than this. Zero disables.
	MinDimension int
	// VerifyChecksums enables PNG chunk CRC verification.
	VerifyChecksums bool
}

// PairResult is the outcome of a bookend pair check. Start and End hold the
// decoded keyframes when decoding succeeded so callers can reuse them for
// scoring.
type PairResult struct {
	Allowed bool
	Reason  string
	Start   imagedecode.PixelBuffer
	End     imagedecode.PixelBuffer
}

// Err returns a validation error describing the rejection, or nil.
func (r PairResult) Err() error {
	if r.Allowed {
		return nil
	}
	return services.Wrap(services.ErrValidation, "preflight", "keyframe pair", r.Reason, nil)
}

// CheckPair rejects bookend pairs that cannot pass the quality gate: either
// image undecodable, mismatched shapes, a single-color image, or an image
// below the minimum dimension.
func CheckPair(start, end []byte, opts PairOptions) PairResult {
	decodeOpts := imagedecode.Options{VerifyChecksums: opts.VerifyChecksums}
	startBuf, err := imagedecode.DecodeWithOptions(start, decodeOpts)
	if err != nil {
		return reject("start keyframe is not decodable: %v", err)
	}
	endBuf, err := imagedecode.DecodeWithOptions(end, decodeOpts)
	if err != nil {
		return reject("end keyframe is not decodable: %v", err)
	}
	result := PairResult{Start: startBuf, End: endBuf}

	if startBuf.Width != endBuf.Width || startBuf.Height != endBuf.Height {
		result.Reason = fmt.Sprintf("keyframe dimensions differ: start %dx%d, end %dx%d",
			startBuf.Width, startBuf.Height, endBuf.Width, endBuf.Height)
		return result
	}
	if startBuf.Channels != endBuf.Channels || startBuf.BitDepth != endBuf.BitDepth {
		result.Reason = fmt.Sprintf("keyframe formats differ: start %d channels at %d bits, end %d channels at %d bits",
			startBuf.Channels, startBuf.BitDepth, endBuf.Channels, endBuf.BitDepth)
		return result
	}
	if opts.MinDimension > 0 && (startBuf.Width < opts.MinDimension || startBuf.Height < opts.MinDimension) {
		result.Reason = fmt.Sprintf("keyframes are %dx%d, below the %dpx minimum",
			startBuf.Width, startBuf.Height, opts.MinDimension)
		return result
	}
	if singleColor(startBuf) {
		result.Reason = "start keyframe is a single solid color"
		return result
	}
	if singleColor(endBuf) {
		result.Reason = "end keyframe is a single solid color"
		return result
	}
	result.Allowed = true
	return result
}

func reject(format string, args ...any) PairResult {
	return PairResult{Reason: fmt.Sprintf(format, args...)}
}

// singleColor reports whether every pixel equals the first one.
func singleColor(buf imagedecode.PixelBuffer) bool {
	stride := buf.Channels * max(buf.BitDepth/8, 1)
	if stride <= 0 || len(buf.Data) <= stride {
		return true
	}
	first := buf.Data[:stride]
	for off := stride; off+stride <= len(buf.Data); off += stride {
		if !bytes.Equal(first, buf.Data[off:off+stride]) {
			return false
		}
	}
	return true
}
