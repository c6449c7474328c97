package logging

import "strings"

// ProgressSampler suppresses repetitive backend progress events while keeping
// a line whenever the executing node changes or the percentage crosses a
// bucket boundary.
type ProgressSampler struct {
	bucketSize float64
	lastNode   string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket size in
// percent (default 10).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// percent means the backend did not report a value.
func (s *ProgressSampler) ShouldLog(percent float64, node string) bool {
	if s == nil {
		return true
	}
	node = strings.TrimSpace(node)
	emit := false
	if node != "" && node != s.lastNode {
		s.lastNode = node
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(min(percent, 100) / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state between jobs.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastNode = ""
	s.lastBucket = -1
}
