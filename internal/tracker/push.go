package tracker

import (
	"context"
	"time"

	"framegate/internal/logging"
	"framegate/internal/services/backend"
)

// EventStream is an open push channel. *backend.Subscription satisfies it.
type EventStream interface {
	Events() <-chan backend.Event
	Err() error
	Close()
}

// TrackPush follows jobID through push events. The stream must have been
// opened before the job was submitted so no event is missed. A nil stream,
// or one that ends before a terminal event, falls back to polling with the
// same record and the same max-wait budget.
func (t *Tracker) TrackPush(ctx context.Context, stream EventStream, jobID string, submittedAt time.Time) (*Record, error) {
	rec := newRecord(jobID, ModePush, submittedAt, t.clock.Now(), t.settings)
	if stream == nil {
		rec.note("push channel unavailable; polling")
		rec.Mode = ModePoll
		return t.poll(ctx, rec)
	}
	defer stream.Close()

	logger := logging.WithContext(ctx, t.logger).With(logging.BackendJobID(jobID))
	sampler := logging.NewProgressSampler(0)
	remaining := t.settings.MaxWait - t.clock.Now().Sub(rec.SubmittedAt)
	timeout := t.clock.After(remaining)
	events := stream.Events()

	for {
		select {
		case <-ctx.Done():
			return t.cancel(ctx, rec)

		case <-timeout:
			// The stream may have dropped the terminal event; check history
			// once before giving up.
			if entry, err := t.source.History(ctx, jobID); err == nil && entry.SuccessMarker() {
				rec.markSuccess(t.clock.Now(), entry.Outputs)
				return t.awaitArtifact(ctx, rec)
			}
			rec.finalize(ExitMaxWait, t.clock.Now())
			logging.WarnWithContext(logger, "job exceeded max wait", "job_max_wait",
				logging.Duration("max_wait", t.settings.MaxWait),
				logging.String("mode", ModePush),
				logging.String(logging.FieldErrorHint, "raise tracking.max_wait_seconds or check backend load"),
				logging.String(logging.FieldImpact, "job reported as maxWait"))
			return rec, nil

		case event, ok := <-events:
			if !ok {
				reason := "closed"
				if err := stream.Err(); err != nil {
					reason = err.Error()
				}
				rec.note("push channel ended (%s); polling", reason)
				rec.Mode = ModePoll
				logger.Info("push channel ended, falling back to polling", logging.String("reason", reason))
				return t.poll(ctx, rec)
			}
			if event.JobID != "" && event.JobID != jobID {
				continue
			}
			switch event.Kind {
			case backend.EventQueued:
				t.transition(rec, StateQueued)
				t.emit(rec, Update{})
			case backend.EventRunning, backend.EventExecuting, backend.EventNodeOutput:
				if event.JobID == "" {
					continue
				}
				t.transition(rec, StateRunning)
				t.emit(rec, Update{Node: event.Node})
			case backend.EventProgress:
				if event.JobID == "" {
					continue
				}
				t.transition(rec, StateRunning)
				percent := event.Percent()
				if sampler.ShouldLog(percent, event.Node) {
					logger.Info("generation progress",
						logging.Float64("percent", percent),
						logging.String("node", event.Node))
				}
				t.emit(rec, Update{Percent: percent, Node: event.Node})
			case backend.EventExecuted:
				if event.JobID == "" {
					continue
				}
				entry, err := t.source.History(ctx, jobID)
				if err == nil && entry.Error != "" {
					rec.BackendError = entry.Error
					rec.finalize(ExitUnknown, t.clock.Now())
					return rec, nil
				}
				rec.markSuccess(t.clock.Now(), entry.Outputs)
				logger.Info("execution success detected", logging.String("mode", ModePush))
				return t.awaitArtifact(ctx, rec)
			case backend.EventError:
				if event.JobID == "" {
					continue
				}
				rec.BackendError = event.Message
				rec.finalize(ExitUnknown, t.clock.Now())
				logging.WarnWithContext(logger, "backend reported job failure", "job_backend_error",
					logging.String("error", event.Message),
					logging.String(logging.FieldErrorHint, "inspect the backend log for the failing node"),
					logging.String(logging.FieldImpact, "job will not produce an artifact"))
				t.emit(rec, Update{Message: event.Message})
				return rec, nil
			}
		}
	}
}
