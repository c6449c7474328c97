// Package imagedecode decodes PNG keyframes and extracted video frames into
// raw pixel buffers for similarity scoring.
//
// The decoder handles exactly what the pipeline produces and consumes:
// non-interlaced PNGs of every standard color type, with image data split
// across any number of IDAT chunks. The chunks are concatenated in file order
// before a single inflate, which is the only correct reading of the format;
// decoding the first chunk alone yields a truncated image. Every failure is
// reported as a *DecodeError so callers can downgrade it to an "unable to
// evaluate" verdict instead of aborting a batch.
package imagedecode
