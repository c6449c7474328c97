package jobstore

import (
	"fmt"
	"time"

	"framegate/internal/services"
)

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusSubmitted,
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

// transitions lists the allowed moves. A retry sends an in-flight job back to
// submitted with a fresh backend job id.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSubmitted, StatusFailed, StatusCancelled},
	StatusSubmitted: {StatusSubmitted, StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled},
	StatusQueued:    {StatusSubmitted, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusSubmitted, StatusSucceeded, StatusFailed, StatusCancelled},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, bool) {
	for _, s := range allStatuses {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError reports a status move the lifecycle forbids.
type TransitionError struct {
	JobID    string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return services.ErrValidation }

// Input is a persisted slot binding.
type Input struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// GenerationJob is one request to the backend and everything known about
// how it ended.
type GenerationJob struct {
	ID           string
	SceneID      string
	SampleID     string
	Template     string
	Inputs       map[string]Input
	BackendURL   string
	BackendJobID string
	Status       Status
	AttemptsUsed int
	RetryBudget  int

	ExitReason        string
	Verdict           string
	Decision          string
	AverageSimilarity *float64
	ErrorKind         string
	ErrorMessage      string
	TelemetryPath     string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
	FinishedAt  *time.Time
}

// Outcome is the terminal state recorded once a job finishes.
type Outcome struct {
	Status            Status
	ExitReason        string
	Verdict           string
	Decision          string
	AverageSimilarity *float64
	ErrorKind         string
	ErrorMessage      string
	TelemetryPath     string
}
