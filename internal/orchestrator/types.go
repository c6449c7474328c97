package orchestrator

import (
	"errors"
	"strings"
	"time"

	"framegate/internal/golden"
	"framegate/internal/jobgraph"
	"framegate/internal/notifications"
	"framegate/internal/preflight"
	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/submit"
	"framegate/internal/tracker"
)

// Process exit codes for a batch.
const (
	ExitOK           = 0
	ExitQualityFail  = 1
	ExitSetupFailure = 2
)

// JobRequest is one generation to run and score.
type JobRequest struct {
	SceneID  string
	SampleID string
	Name     string
	Template *jobgraph.Template
	Inputs   map[string]submit.Input

	// StartKeyframe and EndKeyframe are the reference images the artifact's
	// boundary frames are compared with. Scoring is skipped without them.
	StartKeyframe string
	EndKeyframe   string

	// Sample is set for golden sample runs; its manifest thresholds take
	// precedence over stored ones.
	Sample *golden.Sample

	// Analyze forces scoring when automatic analysis is off.
	Analyze bool
}

// FromSample builds the request for a golden sample. Golden runs are always
// scored.
func FromSample(s *golden.Sample) (JobRequest, error) {
	tmpl, err := s.Template()
	if err != nil {
		return JobRequest{}, err
	}
	return JobRequest{
		SceneID:       s.SceneID,
		SampleID:      s.ID,
		Name:          s.Name,
		Template:      tmpl,
		Inputs:        s.Inputs(),
		StartKeyframe: s.StartImage,
		EndKeyframe:   s.EndImage,
		Sample:        s,
		Analyze:       true,
	}, nil
}

func (r JobRequest) displayName() string {
	for _, candidate := range []string{r.Name, r.SampleID, r.SceneID} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	if r.Template != nil && r.Template.Name != "" {
		return r.Template.Name
	}
	return "ad-hoc job"
}

func (r JobRequest) hasKeyframes() bool {
	return strings.TrimSpace(r.StartKeyframe) != "" && strings.TrimSpace(r.EndKeyframe) != ""
}

// JobOutcome is what happened to one request. Err is set when the job never
// reached a verdict; a degraded verdict is not an error.
type JobOutcome struct {
	JobID        string
	SampleID     string
	Name         string
	BackendJobID string
	Attempts     int
	Retried      []string

	Execution     *tracker.Record
	Verdict       *quality.QualityVerdict
	Decision      quality.Decision
	ArtifactPath  string
	TelemetryPath string
	LogPath       string
	Advisories    []preflight.Result

	Err      error
	Duration time.Duration
}

// Failed reports whether the outcome counts against the batch: a job error
// or a FAIL verdict.
func (o JobOutcome) Failed() bool {
	return o.Err != nil || (o.Verdict != nil && o.Verdict.Verdict == quality.VerdictFail)
}

// SetupFailure reports whether the job could not start because of the
// environment rather than the artifact.
func (o JobOutcome) SetupFailure() bool {
	return o.Err != nil && services.IsSetupFailure(o.Err)
}

// Cancelled reports whether the job ended because its context did.
func (o JobOutcome) Cancelled() bool {
	return o.Err != nil && errors.Is(o.Err, services.ErrCancelled)
}

// BatchResult collects the outcomes of a batch in request order.
type BatchResult struct {
	Outcomes []JobOutcome
	// Skipped counts requests never started because the batch stopped early.
	Skipped  int
	Duration time.Duration
}

// ExitCode is ExitQualityFail when any verdict is FAIL, ExitSetupFailure when
// any job could not start, ExitQualityFail when any other job errored, and
// ExitOK otherwise. A FAIL verdict always wins over a setup failure.
func (b BatchResult) ExitCode() int {
	var failedVerdict, setup, errored bool
	for _, o := range b.Outcomes {
		switch {
		case o.Verdict != nil && o.Verdict.Verdict == quality.VerdictFail:
			failedVerdict = true
		case o.SetupFailure():
			setup = true
		case o.Failed():
			errored = true
		}
	}
	switch {
	case failedVerdict:
		return ExitQualityFail
	case setup:
		return ExitSetupFailure
	case errored:
		return ExitQualityFail
	}
	return ExitOK
}

// Summary tallies the batch for notifications and the CLI.
func (b BatchResult) Summary() notifications.BatchSummary {
	s := notifications.BatchSummary{
		Total:    len(b.Outcomes) + b.Skipped,
		ExitCode: b.ExitCode(),
		Duration: b.Duration,
	}
	for _, o := range b.Outcomes {
		switch {
		case o.Err != nil:
			s.Errored++
		case o.Verdict == nil:
			s.Passed++
		case o.Verdict.Verdict == quality.VerdictPass:
			s.Passed++
		case o.Verdict.Verdict == quality.VerdictWarn:
			s.Warned++
		default:
			s.Failed++
		}
	}
	return s
}
