// Package tracker drives a submitted job to a terminal state.
//
// The tracker is a state machine over Submitted, Queued, Running, and then
// Succeeded or Failed, clocked by an injected clock so the whole protocol
// runs under a fake clock in tests. Poll mode queries history by id on a
// fixed interval; push mode consumes backend events and converges to the
// same terminal semantics. Both apply the post-execution grace window: a
// success marker is only final once the artifact is confirmed readable.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"framegate/internal/clock"
	"framegate/internal/logging"
	"framegate/internal/services"
	"framegate/internal/services/backend"
)

// HistorySource is the backend surface the tracker polls.
type HistorySource interface {
	History(ctx context.Context, jobID string) (backend.HistoryEntry, error)
	Queue(ctx context.Context) (backend.QueueSnapshot, error)
}

// Update is a progress notification sent while tracking.
type Update struct {
	JobID   string
	State   State
	Attempt int
	Percent float64
	Node    string
	Message string
}

// Tracker tracks jobs against one backend.
type Tracker struct {
	source   HistorySource
	probe    ArtifactProbe
	clock    clock.Clock
	settings Settings
	logger   *slog.Logger
	progress chan<- Update
}

// Option customizes a tracker.
type Option func(*Tracker)

// WithClock injects the clock.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithProbe sets the artifact probe used during the post-execution grace
// window. Without a probe the success marker alone confirms the artifact.
func WithProbe(p ArtifactProbe) Option {
	return func(t *Tracker) { t.probe = p }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithProgress delivers updates on ch. Sends never block; updates are
// dropped when the channel is full.
func WithProgress(ch chan<- Update) Option {
	return func(t *Tracker) { t.progress = ch }
}

// New constructs a tracker.
func New(source HistorySource, settings Settings, opts ...Option) *Tracker {
	t := &Tracker{
		source:   source,
		clock:    clock.Real(),
		settings: settings.normalized(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.NewComponentLogger(t.logger, "tracker")
	return t
}

// Settings returns the normalized settings.
func (t *Tracker) Settings() Settings { return t.settings }

// Track polls history for jobID until a terminal exit reason is reached.
// The returned record is always finalized. The error is non-nil only when
// polling hit a transport failure (services.ErrNetwork, record finalized as
// unknown) or ctx was cancelled (record marked Cancelled).
func (t *Tracker) Track(ctx context.Context, jobID string, submittedAt time.Time) (*Record, error) {
	rec := newRecord(jobID, ModePoll, submittedAt, t.clock.Now(), t.settings)
	return t.poll(ctx, rec)
}

func (t *Tracker) poll(ctx context.Context, rec *Record) (*Record, error) {
	logger := logging.WithContext(ctx, t.logger).With(logging.BackendJobID(rec.JobID))
	for {
		if ctx.Err() != nil {
			return t.cancel(ctx, rec)
		}
		entry, err := t.source.History(ctx, rec.JobID)
		if err != nil {
			if ctx.Err() != nil {
				return t.cancel(ctx, rec)
			}
			return t.failHistory(logger, rec, err)
		}
		if entry.Error != "" {
			rec.BackendError = entry.Error
			rec.finalize(ExitUnknown, t.clock.Now())
			logging.WarnWithContext(logger, "backend reported job failure", "job_backend_error",
				logging.String("error", entry.Error),
				logging.String(logging.FieldErrorHint, "inspect the backend log for the failing node"),
				logging.String(logging.FieldImpact, "job will not produce an artifact"))
			t.emit(rec, Update{Message: entry.Error})
			return rec, nil
		}
		if entry.SuccessMarker() {
			rec.markSuccess(t.clock.Now(), entry.Outputs)
			logger.Info("execution success detected",
				logging.Int("history_attempts", rec.HistoryAttempts),
				logging.Int("outputs", len(entry.Outputs)))
			return t.awaitArtifact(ctx, rec)
		}
		if entry.Found && rec.State != StateRunning {
			t.transition(rec, StateRunning)
		}

		rec.HistoryAttempts++
		t.observeQueue(ctx, rec)
		t.emit(rec, Update{})

		if rec.HistoryAttemptLimit > 0 && rec.HistoryAttempts >= rec.HistoryAttemptLimit {
			rec.finalize(ExitAttemptLimit, t.clock.Now())
			logging.WarnWithContext(logger, "history attempt limit reached", "job_attempt_limit",
				logging.Int("history_attempts", rec.HistoryAttempts),
				logging.String(logging.FieldErrorHint, "raise tracking.history_attempt_limit or check backend load"),
				logging.String(logging.FieldImpact, "job reported as attemptLimit"))
			return rec, nil
		}
		now := t.clock.Now()
		if now.Sub(rec.SubmittedAt) >= t.settings.MaxWait {
			rec.finalize(ExitMaxWait, now)
			logging.WarnWithContext(logger, "job exceeded max wait", "job_max_wait",
				logging.Int("history_attempts", rec.HistoryAttempts),
				logging.Duration("max_wait", t.settings.MaxWait),
				logging.String(logging.FieldErrorHint, "raise tracking.max_wait_seconds or check backend load"),
				logging.String(logging.FieldImpact, "job reported as maxWait"))
			return rec, nil
		}
		if err := t.sleep(ctx, t.settings.PollInterval); err != nil {
			return t.cancel(ctx, rec)
		}
	}
}

// awaitArtifact runs the post-execution grace window. Outputs missing from
// the success signal are re-fetched from history on each pass.
func (t *Tracker) awaitArtifact(ctx context.Context, rec *Record) (*Record, error) {
	deadline := rec.ExecutionSuccessAt.Add(t.settings.PostExecutionTimeout)
	for {
		if ctx.Err() != nil {
			return t.cancel(ctx, rec)
		}
		if len(rec.Outputs) == 0 {
			if entry, err := t.source.History(ctx, rec.JobID); err == nil && len(entry.Outputs) > 0 {
				rec.Outputs = entry.Outputs
			}
		}
		listing := backend.HistoryEntry{Found: true, Outputs: rec.Outputs}
		if artifact, ok := listing.Artifact(); ok {
			confirmed, err := t.confirm(ctx, artifact)
			if confirmed {
				rec.Artifact = &artifact
				rec.finalize(ExitSuccess, t.clock.Now())
				t.emit(rec, Update{Percent: 100})
				t.logger.Info("artifact confirmed",
					logging.BackendJobID(rec.JobID),
					logging.String("artifact", artifact.Path),
					logging.Duration("duration", rec.Duration()))
				return rec, nil
			}
			if err != nil {
				t.logger.Debug("artifact probe failed", logging.String("artifact", artifact.Path), logging.Error(err))
			}
		}
		remaining := deadline.Sub(t.clock.Now())
		if remaining <= 0 {
			rec.finalize(ExitPostExecution, t.clock.Now())
			logging.WarnWithContext(t.logger, "artifact not confirmed after execution", "job_post_execution",
				logging.BackendJobID(rec.JobID),
				logging.Duration("grace", t.settings.PostExecutionTimeout),
				logging.String(logging.FieldErrorHint, "check the backend output directory is visible and flushed"),
				logging.String(logging.FieldImpact, "job reported as postExecution"))
			return rec, nil
		}
		if err := t.sleep(ctx, min(t.settings.PollInterval, remaining)); err != nil {
			return t.cancel(ctx, rec)
		}
	}
}

func (t *Tracker) confirm(ctx context.Context, out backend.Output) (bool, error) {
	if t.probe == nil {
		return true, nil
	}
	return t.probe.Confirm(ctx, out)
}

// observeQueue derives Queued and Running from the queue listing until the
// job is seen running. Failures are ignored; the queue is advisory here.
func (t *Tracker) observeQueue(ctx context.Context, rec *Record) {
	if rec.State == StateRunning {
		return
	}
	snapshot, err := t.source.Queue(ctx)
	if err != nil || !snapshot.HasIDs() {
		return
	}
	switch {
	case snapshot.IsRunning(rec.JobID):
		t.transition(rec, StateRunning)
	case snapshot.IsPending(rec.JobID):
		t.transition(rec, StateQueued)
	}
}

func (t *Tracker) transition(rec *Record, state State) {
	if rec.finalized || rec.State == state {
		return
	}
	t.logger.Debug("job state changed",
		logging.BackendJobID(rec.JobID),
		logging.String("from", string(rec.State)),
		logging.String("to", string(state)))
	rec.State = state
}

func (t *Tracker) failHistory(logger *slog.Logger, rec *Record, err error) (*Record, error) {
	rec.BackendError = err.Error()
	rec.finalize(ExitUnknown, t.clock.Now())
	if errors.Is(err, services.ErrNetwork) {
		logging.WarnWithContext(logger, "history query failed", "job_network_error",
			logging.Error(err),
			logging.Int("history_attempts", rec.HistoryAttempts),
			logging.String(logging.FieldErrorHint, "check backend reachability"),
			logging.String(logging.FieldImpact, "attempt ends; retry budget decides what happens next"))
		return rec, err
	}
	logging.WarnWithContext(logger, "unexpected history response", "job_unknown_state",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "backend returned a payload framegate cannot read"),
		logging.String(logging.FieldImpact, "job reported as unknown"))
	return rec, nil
}

func (t *Tracker) cancel(ctx context.Context, rec *Record) (*Record, error) {
	rec.Cancelled = true
	rec.finalize(ExitUnknown, t.clock.Now())
	t.logger.Info("tracking cancelled",
		logging.BackendJobID(rec.JobID),
		logging.Int("history_attempts", rec.HistoryAttempts))
	return rec, services.Wrap(services.ErrCancelled, "tracker", "track", "tracking cancelled; backend job may still run", context.Cause(ctx))
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(d):
		return nil
	}
}

func (t *Tracker) emit(rec *Record, u Update) {
	if t.progress == nil {
		return
	}
	u.JobID = rec.JobID
	u.State = rec.State
	u.Attempt = rec.HistoryAttempts
	select {
	case t.progress <- u:
	default:
	}
}
