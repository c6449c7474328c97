// Package frames extracts the first and last frame of a generated artifact
// so they can be compared with the bookend keyframes.
//
// Video artifacts go through ffprobe (to confirm a video stream exists) and
// two ffmpeg invocations that run concurrently; image artifacts and image
// sequences are read directly. Missing or empty frames are reported as
// decode errors, tool failures as external-tool errors.
package frames
