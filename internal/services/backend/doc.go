// Package backend talks to the generation backend over HTTP and WebSocket.
//
// Two route dialects are supported. The generic dialect exposes /submit,
// /history/{id}, and /queue with counts. The comfyui dialect speaks the
// ComfyUI API (/prompt, /history/{id}, /queue with job lists, /system_stats,
// /upload/image, /view, and /ws). Both are normalized into the same Go types
// so callers never branch on the dialect.
//
// Errors are tagged with services markers: transport failures and 408, 429,
// and 5xx answers carry ErrNetwork so the retry coordinator can retry them,
// rejected submissions carry ErrSubmission, and malformed payloads carry
// ErrBackend.
package backend
