package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"framegate/internal/jobstore"
	"framegate/internal/logging"
	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/telemetry"
)

// finish writes telemetry, records the terminal job state, and sends
// notifications. It runs after cancellation too, so it detaches from ctx's
// cancellation.
func (r *Runner) finish(ctx context.Context, logger *slog.Logger, out *JobOutcome, rec *telemetry.Record) {
	ctx = context.WithoutCancel(ctx)
	rec.BackendJobID = out.BackendJobID
	rec.ApplyError(out.Err)

	if path, err := r.recorder.Write(rec); err != nil {
		logging.WarnWithContext(logger, "telemetry write failed", "telemetry_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check telemetry_dir permissions and free space"),
			logging.String(logging.FieldImpact, "job has no telemetry record"))
	} else {
		out.TelemetryPath = path
	}

	r.recordOutcome(ctx, logger, out)
	r.notify(ctx, logger, out)

	if out.Err != nil {
		r.logFailure(logger, out)
		return
	}
	attrs := []logging.Attr{
		logging.Int("attempts", out.Attempts),
		logging.Duration("duration", out.Duration),
		logging.String("telemetry", out.TelemetryPath),
	}
	if out.Verdict != nil {
		attrs = append(attrs,
			logging.Verdict(string(out.Verdict.Verdict)),
			logging.String("decision", string(out.Decision)))
	}
	logger.Info("job finished", logging.Args(attrs...)...)
}

func (r *Runner) logFailure(logger *slog.Logger, out *JobOutcome) {
	attrs := []logging.Attr{
		logging.Error(out.Err),
		logging.ErrorKind(services.ErrorKind(out.Err)),
		logging.Int("attempts", out.Attempts),
		logging.Duration("duration", out.Duration),
	}
	if out.Cancelled() {
		logger.Info("job cancelled", logging.Args(attrs...)...)
		return
	}
	hint := "inspect the job log and telemetry record"
	if out.SetupFailure() {
		hint = "fix the configuration or fixtures before rerunning"
	}
	attrs = append(attrs,
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "job produced no verdict"))
	logging.ErrorWithContext(logger, "job failed", "job_failed", attrs...)
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, out *JobOutcome) {
	var err error
	switch {
	case out.Err != nil:
		if out.Cancelled() {
			return
		}
		err = r.notifier.NotifyError(ctx, out.Err, out.Name)
	case out.Verdict == nil || out.Verdict.Verdict != quality.VerdictFail:
		return
	case out.Decision == quality.DecisionBlockOverride:
		err = r.notifier.NotifyOverrideRequired(ctx, out.Name, *out.Verdict)
	case r.cfg.EffectiveFlags().NotifyOnFail:
		err = r.notifier.NotifyVerdict(ctx, out.Name, *out.Verdict, out.Decision)
	}
	if err != nil {
		logger.Debug("notification failed", logging.Error(err))
	}
}

func (r *Runner) createJob(ctx context.Context, logger *slog.Logger, jobID string, req JobRequest) {
	if r.jobs == nil {
		return
	}
	job := jobstore.GenerationJob{
		ID:          jobID,
		SceneID:     req.SceneID,
		SampleID:    req.SampleID,
		BackendURL:  r.backend.BaseURL(),
		RetryBudget: r.cfg.Retry.Budget,
		Inputs:      make(map[string]jobstore.Input, len(req.Inputs)),
	}
	if req.Template != nil {
		job.Template = req.Template.Name
	}
	for slot, in := range req.Inputs {
		job.Inputs[slot] = jobstore.Input{Kind: in.Kind.String(), Value: in.Value}
	}
	if _, err := r.jobs.Create(context.WithoutCancel(ctx), job); err != nil {
		r.storeWarning(logger, "create", err)
	}
}

func (r *Runner) recordAttempt(ctx context.Context, logger *slog.Logger, jobID, backendJobID string, attempt int) {
	if r.jobs == nil {
		return
	}
	if err := r.jobs.RecordAttempt(ctx, jobID, backendJobID, attempt); err != nil {
		r.storeWarning(logger, "record attempt", err)
	}
}

func (r *Runner) transitionJob(ctx context.Context, logger *slog.Logger, jobID string, to jobstore.Status) {
	if r.jobs == nil {
		return
	}
	err := r.jobs.Transition(ctx, jobID, to)
	var transition *jobstore.TransitionError
	if errors.As(err, &transition) {
		logger.Debug("job status unchanged", logging.String("from", string(transition.From)), logging.String("to", string(to)))
		return
	}
	if err != nil {
		r.storeWarning(logger, "transition", err)
	}
}

func (r *Runner) recordOutcome(ctx context.Context, logger *slog.Logger, out *JobOutcome) {
	if r.jobs == nil {
		return
	}
	outcome := jobstore.Outcome{
		Status:        jobstore.StatusSucceeded,
		TelemetryPath: out.TelemetryPath,
	}
	if out.Execution != nil {
		outcome.ExitReason = string(out.Execution.ExitReason)
	}
	if out.Verdict != nil {
		outcome.Verdict = string(out.Verdict.Verdict)
		outcome.Decision = string(out.Decision)
		if out.Verdict.Evaluated {
			avg := out.Verdict.Measured.AverageSimilarity
			outcome.AverageSimilarity = &avg
		} else {
			outcome.ErrorMessage = out.Verdict.Reason
		}
	}
	if out.Err != nil {
		outcome.Status = jobstore.StatusFailed
		if out.Cancelled() {
			outcome.Status = jobstore.StatusCancelled
		}
		outcome.ErrorKind = services.ErrorKind(out.Err)
		outcome.ErrorMessage = strings.TrimSpace(out.Err.Error())
	}
	if err := r.jobs.RecordOutcome(ctx, out.JobID, outcome); err != nil {
		r.storeWarning(logger, "record outcome", err)
	}
}

func (r *Runner) storeWarning(logger *slog.Logger, op string, err error) {
	logging.WarnWithContext(logger, "job store update failed", "jobstore_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the state directory and jobs.db"),
		logging.String(logging.FieldImpact, "job history may be incomplete"))
}
