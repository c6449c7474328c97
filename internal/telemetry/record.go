package telemetry

import (
	"time"

	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/similarity"
	"framegate/internal/tracker"
)

// GPU is the resource snapshot pair for one job. VRAMDeltaMB is set exactly
// when both readings are present.
type GPU struct {
	Name         string   `json:"name"`
	VRAMBeforeMB *float64 `json:"vramBeforeMB"`
	VRAMAfterMB  *float64 `json:"vramAfterMB"`
	VRAMDeltaMB  *float64 `json:"vramDeltaMB"`
}

// SetBefore records the pre-job reading.
func (g *GPU) SetBefore(s Snapshot) {
	if g.Name == "" {
		g.Name = s.Name
	}
	v := s.UsedMB
	g.VRAMBeforeMB = &v
	g.updateDelta()
}

// SetAfter records the post-job reading.
func (g *GPU) SetAfter(s Snapshot) {
	if g.Name == "" {
		g.Name = s.Name
	}
	v := s.UsedMB
	g.VRAMAfterMB = &v
	g.updateDelta()
}

func (g *GPU) updateDelta() {
	if g.VRAMBeforeMB == nil || g.VRAMAfterMB == nil {
		g.VRAMDeltaMB = nil
		return
	}
	d := *g.VRAMAfterMB - *g.VRAMBeforeMB
	g.VRAMDeltaMB = &d
}

// Record is the per-job telemetry artifact. A failed batch is explainable
// from these files alone: every exit reason, error kind and verdict lands
// here.
type Record struct {
	JobID        string `json:"jobId"`
	SceneID      string `json:"sceneId,omitempty"`
	SampleID     string `json:"sampleId,omitempty"`
	BackendJobID string `json:"backendJobId,omitempty"`
	Attempts     int    `json:"attempts"`

	DurationSeconds             float64             `json:"durationSeconds"`
	HistoryAttempts             int                 `json:"historyAttempts"`
	HistoryAttemptLimit         int                 `json:"historyAttemptLimit"`
	PollIntervalSeconds         float64             `json:"pollIntervalSeconds"`
	MaxWaitSeconds              float64             `json:"maxWaitSeconds"`
	PostExecutionTimeoutSeconds float64             `json:"postExecutionTimeoutSeconds"`
	HistoryExitReason           tracker.ExitReason  `json:"historyExitReason"`
	ExecutionSuccessDetected    bool                `json:"executionSuccessDetected"`
	ExecutionSuccessAt          *time.Time          `json:"executionSuccessAt"`
	TrackingMode                string              `json:"trackingMode,omitempty"`
	Cancelled                   bool                `json:"cancelled"`
	GPU                         GPU                 `json:"gpu"`
	FallbackNotes               []string            `json:"fallbackNotes"`
	Notes                       []string            `json:"notes,omitempty"`
	ErrorKind                   string              `json:"errorKind,omitempty"`
	ErrorMessage                string              `json:"errorMessage,omitempty"`
	Verdict                     quality.Verdict     `json:"verdict,omitempty"`
	VerdictReason               string              `json:"verdictReason,omitempty"`
	Decision                    quality.Decision    `json:"decision,omitempty"`
	Similarity                  *similarity.Result  `json:"similarity,omitempty"`
	Thresholds                  *quality.Thresholds `json:"thresholds,omitempty"`
	DeltaVsBaseline             *float64            `json:"deltaVsBaseline,omitempty"`
	ArtifactPath                string              `json:"artifactPath,omitempty"`
	ArtifactDigest              string              `json:"artifactDigest,omitempty"`
	RecordedAt                  time.Time           `json:"recordedAt"`
}

// New returns a record for jobID with an empty fallback note list.
func New(jobID string) *Record {
	return &Record{JobID: jobID, FallbackNotes: []string{}}
}

// ApplyExecution copies the tracker outcome. A nil execution (the job never
// reached tracking) leaves the exit reason as unknown so the field is never
// empty.
func (r *Record) ApplyExecution(exec *tracker.Record) {
	if exec == nil {
		if r.HistoryExitReason == "" {
			r.HistoryExitReason = tracker.ExitUnknown
		}
		return
	}
	r.BackendJobID = exec.JobID
	r.DurationSeconds = exec.Duration().Seconds()
	r.HistoryAttempts = exec.HistoryAttempts
	r.HistoryAttemptLimit = exec.HistoryAttemptLimit
	r.PollIntervalSeconds = exec.PollIntervalSeconds
	r.MaxWaitSeconds = exec.MaxWaitSeconds
	r.PostExecutionTimeoutSeconds = exec.PostExecutionTimeoutSeconds
	r.HistoryExitReason = exec.ExitReason
	if !r.HistoryExitReason.Valid() {
		r.HistoryExitReason = tracker.ExitUnknown
	}
	r.ExecutionSuccessDetected = exec.ExecutionSuccessDetected
	r.ExecutionSuccessAt = exec.ExecutionSuccessAt
	r.TrackingMode = exec.Mode
	r.Cancelled = r.Cancelled || exec.Cancelled
	r.Notes = append(r.Notes, exec.Notes...)
	if exec.Artifact != nil && r.ArtifactPath == "" {
		r.ArtifactPath = exec.Artifact.Path
	}
}

// ApplyVerdict copies the quality decision.
func (r *Record) ApplyVerdict(v quality.QualityVerdict, d quality.Decision) {
	r.Verdict = v.Verdict
	r.VerdictReason = v.Reason
	r.Decision = d
	thresholds := v.ThresholdsUsed
	r.Thresholds = &thresholds
	r.DeltaVsBaseline = v.DeltaVsBaseline
	if v.Evaluated {
		measured := v.Measured
		r.Similarity = &measured
	}
}

// ApplyError records the error kind and message. Cancellation also sets
// Cancelled.
func (r *Record) ApplyError(err error) {
	if err == nil {
		return
	}
	r.ErrorKind = services.ErrorKind(err)
	r.ErrorMessage = err.Error()
	if r.ErrorKind == "cancelled" {
		r.Cancelled = true
	}
}

// AddFallbackNotes appends probe fallback notes.
func (r *Record) AddFallbackNotes(notes ...string) {
	r.FallbackNotes = append(r.FallbackNotes, notes...)
}
