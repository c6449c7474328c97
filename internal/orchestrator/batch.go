package orchestrator

import (
	"context"
	"time"

	"framegate/internal/golden"
	"framegate/internal/logging"
)

// BatchOptions controls how a batch reacts to failing jobs.
type BatchOptions struct {
	// ContinueOnError keeps running after a job error. FAIL verdicts never
	// stop a batch.
	ContinueOnError bool
}

// RunBatch runs reqs back-to-back in order and sends the batch summary
// notification. A cancelled context stops the batch after the current job.
func (r *Runner) RunBatch(ctx context.Context, reqs []JobRequest, opts BatchOptions) BatchResult {
	start := r.clock.Now()
	result := BatchResult{Outcomes: make([]JobOutcome, 0, len(reqs))}
	for i, req := range reqs {
		if ctx.Err() != nil {
			result.Skipped = len(reqs) - i
			break
		}
		out := r.RunJob(ctx, req)
		result.Outcomes = append(result.Outcomes, out)
		if out.Err != nil && !opts.ContinueOnError {
			result.Skipped = len(reqs) - i - 1
			break
		}
	}
	return r.completeBatch(ctx, start, result)
}

// RunSamples runs golden samples as a batch. A sample whose workflow cannot
// be loaded is reported as a setup failure without reaching the backend.
func (r *Runner) RunSamples(ctx context.Context, samples []*golden.Sample, opts BatchOptions) BatchResult {
	start := r.clock.Now()
	result := BatchResult{Outcomes: make([]JobOutcome, 0, len(samples))}
	for i, sample := range samples {
		if ctx.Err() != nil {
			result.Skipped = len(samples) - i
			break
		}
		var out JobOutcome
		req, err := FromSample(sample)
		if err != nil {
			out = JobOutcome{SampleID: sample.ID, Name: sample.Name, Err: err}
			logging.ErrorWithContext(r.logger, "sample could not be loaded", "sample_invalid",
				logging.SampleID(sample.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the sample manifest and workflow"),
				logging.String(logging.FieldImpact, "sample skipped"))
		} else {
			out = r.RunJob(ctx, req)
		}
		result.Outcomes = append(result.Outcomes, out)
		if out.Err != nil && !opts.ContinueOnError {
			result.Skipped = len(samples) - i - 1
			break
		}
	}
	return r.completeBatch(ctx, start, result)
}

func (r *Runner) completeBatch(ctx context.Context, start time.Time, result BatchResult) BatchResult {
	result.Duration = r.clock.Now().Sub(start)
	summary := result.Summary()
	r.logger.Info("batch finished",
		logging.Int("total", summary.Total),
		logging.Int("passed", summary.Passed),
		logging.Int("warned", summary.Warned),
		logging.Int("failed", summary.Failed),
		logging.Int("errored", summary.Errored),
		logging.Int("skipped", result.Skipped),
		logging.Int("exit_code", summary.ExitCode),
		logging.Duration("duration", result.Duration))
	if err := r.notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), summary); err != nil {
		r.logger.Debug("batch notification failed", logging.Error(err))
	}
	return result
}
