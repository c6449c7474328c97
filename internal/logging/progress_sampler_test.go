package logging

import "testing"

func TestProgressSamplerDefaults(t *testing.T) {
	s := NewProgressSampler(0)
	if s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(50, "KSampler") {
		t.Fatal("nil sampler should always log")
	}
	nilSampler.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		percent float64
		node    string
		want    bool
	}{
		{0, "3", true},
		{10, "3", false},
		{26, "3", true},
		{49, "3", false},
		{100, "3", true},
		{150, "3", false},
		{0, "8", true},
		{-1, "8", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.node); got != step.want {
			t.Fatalf("step %d: ShouldLog(%v, %q) = %v, want %v", i, step.percent, step.node, got, step.want)
		}
	}
	s.Reset()
	if !s.ShouldLog(0, "8") {
		t.Fatal("expected log after reset")
	}
}
