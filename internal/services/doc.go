// Package services defines shared utilities consumed by the generation
// pipeline and its backend integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, scene and sample identifiers, attempt
//     numbers, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (retryable network trouble vs. submission mistakes vs. decode
//     problems) without string matching.
//
// Use these helpers when wiring new pipeline code so error handling and
// observability stay uniform.
package services
