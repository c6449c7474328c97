// Package golden loads golden samples: regression fixtures that pair a
// prompt and two bookend keyframes with the workflow that renders them.
//
// Each sample lives in its own directory under the samples root and is
// described by a sample.yaml manifest. Relative image paths resolve against
// the sample directory; the workflow resolves against the sample directory
// first and the shared workflows directory second.
package golden
