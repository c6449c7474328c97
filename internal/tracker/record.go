package tracker

import (
	"fmt"
	"time"

	"framegate/internal/config"
	"framegate/internal/services"
	"framegate/internal/services/backend"
)

// ExitReason is the terminal classification of a tracked job.
type ExitReason string

const (
	ExitSuccess       ExitReason = "success"
	ExitMaxWait       ExitReason = "maxWait"
	ExitAttemptLimit  ExitReason = "attemptLimit"
	ExitPostExecution ExitReason = "postExecution"
	ExitUnknown       ExitReason = "unknown"
)

// ExitReasons lists every terminal value a finalized record can carry.
var ExitReasons = []ExitReason{ExitSuccess, ExitMaxWait, ExitAttemptLimit, ExitPostExecution, ExitUnknown}

// Valid reports whether r is one of the five terminal values.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitSuccess, ExitMaxWait, ExitAttemptLimit, ExitPostExecution, ExitUnknown:
		return true
	}
	return false
}

// Marker returns the services marker for a non-success exit reason.
func (r ExitReason) Marker() error {
	switch r {
	case ExitSuccess:
		return nil
	case ExitMaxWait:
		return services.ErrTimeout
	case ExitAttemptLimit:
		return services.ErrAttemptLimit
	case ExitPostExecution:
		return services.ErrPostExecution
	default:
		return services.ErrBackend
	}
}

// State is the job lifecycle state.
type State string

const (
	StateSubmitted State = "submitted"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Tracking modes.
const (
	ModePoll = "poll"
	ModePush = "push"
)

// Settings bounds the tracking protocol. A zero HistoryAttemptLimit means
// unbounded.
type Settings struct {
	MaxWait              time.Duration
	PollInterval         time.Duration
	PostExecutionTimeout time.Duration
	HistoryAttemptLimit  int
}

// SettingsFromConfig converts the tracking configuration section.
func SettingsFromConfig(t config.Tracking) Settings {
	return Settings{
		MaxWait:              time.Duration(t.MaxWaitSeconds) * time.Second,
		PollInterval:         time.Duration(t.PollIntervalSeconds) * time.Second,
		PostExecutionTimeout: time.Duration(t.PostExecutionTimeoutSeconds) * time.Second,
		HistoryAttemptLimit:  t.HistoryAttemptLimit,
	}
}

func (s Settings) normalized() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = 2 * time.Second
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 600 * time.Second
	}
	if s.PostExecutionTimeout < 0 {
		s.PostExecutionTimeout = 0
	}
	if s.HistoryAttemptLimit < 0 {
		s.HistoryAttemptLimit = 0
	}
	return s
}

// Record is the execution telemetry for one tracked attempt. It is
// finalized exactly once; later finalize calls are ignored.
type Record struct {
	JobID                       string           `json:"jobId"`
	Mode                        string           `json:"mode"`
	State                       State            `json:"state"`
	HistoryAttempts             int              `json:"historyAttempts"`
	HistoryAttemptLimit         int              `json:"historyAttemptLimit"`
	PollIntervalSeconds         float64          `json:"pollIntervalSeconds"`
	MaxWaitSeconds              float64          `json:"maxWaitSeconds"`
	PostExecutionTimeoutSeconds float64          `json:"postExecutionTimeoutSeconds"`
	ExitReason                  ExitReason       `json:"exitReason"`
	ExecutionSuccessDetected    bool             `json:"executionSuccessDetected"`
	ExecutionSuccessAt          *time.Time       `json:"executionSuccessAt"`
	Cancelled                   bool             `json:"cancelled"`
	BackendError                string           `json:"backendError,omitempty"`
	Outputs                     []backend.Output `json:"outputs,omitempty"`
	Artifact                    *backend.Output  `json:"artifact,omitempty"`
	SubmittedAt                 time.Time        `json:"submittedAt"`
	StartedAt                   time.Time        `json:"startedAt"`
	FinishedAt                  time.Time        `json:"finishedAt"`
	Notes                       []string         `json:"notes,omitempty"`

	finalized bool
}

func newRecord(jobID, mode string, submittedAt, now time.Time, s Settings) *Record {
	if submittedAt.IsZero() {
		submittedAt = now
	}
	return &Record{
		JobID:                       jobID,
		Mode:                        mode,
		State:                       StateSubmitted,
		HistoryAttemptLimit:         s.HistoryAttemptLimit,
		PollIntervalSeconds:         s.PollInterval.Seconds(),
		MaxWaitSeconds:              s.MaxWait.Seconds(),
		PostExecutionTimeoutSeconds: s.PostExecutionTimeout.Seconds(),
		SubmittedAt:                 submittedAt,
		StartedAt:                   now,
	}
}

// Finalized reports whether a terminal exit reason has been set.
func (r *Record) Finalized() bool { return r.finalized }

// Succeeded reports a finalized success.
func (r *Record) Succeeded() bool {
	return r.finalized && r.ExitReason == ExitSuccess && !r.Cancelled
}

// Duration is the time from submission to finalization.
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.SubmittedAt)
}

// Err describes a non-success outcome tagged with its services marker.
func (r *Record) Err() error {
	if r == nil {
		return nil
	}
	if r.Cancelled {
		return services.Wrap(services.ErrCancelled, "tracker", r.JobID, "tracking cancelled", nil)
	}
	marker := r.ExitReason.Marker()
	if marker == nil {
		return nil
	}
	msg := fmt.Sprintf("exit reason %s after %d history attempts", r.ExitReason, r.HistoryAttempts)
	if r.BackendError != "" {
		msg += ": " + r.BackendError
	}
	return services.Wrap(marker, "tracker", r.JobID, msg, nil)
}

func (r *Record) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func (r *Record) markSuccess(now time.Time, outputs []backend.Output) {
	if r.finalized || r.ExecutionSuccessDetected {
		return
	}
	at := now
	r.ExecutionSuccessDetected = true
	r.ExecutionSuccessAt = &at
	r.State = StateRunning
	if len(outputs) > 0 {
		r.Outputs = outputs
	}
}

func (r *Record) finalize(reason ExitReason, now time.Time) {
	if r.finalized {
		return
	}
	if !reason.Valid() {
		reason = ExitUnknown
	}
	r.ExitReason = reason
	r.FinishedAt = now
	r.finalized = true
	if reason == ExitSuccess && !r.Cancelled {
		r.State = StateSucceeded
	} else {
		r.State = StateFailed
	}
}
