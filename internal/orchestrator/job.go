package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"framegate/internal/flags"
	"framegate/internal/jobstore"
	"framegate/internal/logging"
	"framegate/internal/preflight"
	"framegate/internal/retry"
	"framegate/internal/services"
	"framegate/internal/submit"
	"framegate/internal/telemetry"
	"framegate/internal/tracker"
)

const (
	stageName      = "orchestrator"
	progressBuffer = 32
)

// RunJob runs req to a verdict or a job error. A telemetry record is written
// for every job, including ones that never reached the backend.
func (r *Runner) RunJob(ctx context.Context, req JobRequest) JobOutcome {
	start := r.clock.Now()
	jobID := uuid.NewString()
	out := JobOutcome{JobID: jobID, SampleID: req.SampleID, Name: req.displayName()}

	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithSceneID(ctx, req.SceneID)
	ctx = services.WithSampleID(ctx, req.SampleID)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	base, logPath, closeLog := r.jobLogs.open(r.logger, jobID, out.Name, start)
	defer closeLog()
	out.LogPath = logPath
	logger := logging.WithContext(ctx, base)

	rec := telemetry.New(jobID)
	rec.SceneID = req.SceneID
	rec.SampleID = req.SampleID

	r.createJob(ctx, logger, jobID, req)
	logger.Info("job started", logging.String("name", out.Name), logging.String("backend", r.backend.BaseURL()))

	out.Err = r.execute(ctx, logger, req, &out, rec)
	out.Duration = r.clock.Now().Sub(start)
	r.finish(ctx, logger, &out, rec)
	return out
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, req JobRequest, out *JobOutcome, rec *telemetry.Record) error {
	if req.Template == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "run", "job graph template required", nil)
	}
	effective := r.cfg.EffectiveFlags()

	if err := r.checkPair(logger, req, effective, rec); err != nil {
		return err
	}

	release, err := r.lock.Acquire(ctx, logger)
	if err != nil {
		return err
	}
	defer release()
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, stageName, "run", "cancelled before submission", context.Cause(ctx))
	}

	if err := r.admit(ctx, logger, out, rec); err != nil {
		return err
	}

	r.recorder.CaptureBefore(ctx, rec)
	coordinator := retry.New(retry.PolicyFromConfig(r.cfg.Retry), retry.WithClock(r.clock), retry.WithLogger(logger))
	result, runErr := coordinator.Run(ctx, func(ctx context.Context, n int) (*tracker.Record, error) {
		return r.attempt(ctx, logger, req, out, n, effective.PushTracking)
	})
	r.recorder.CaptureAfter(context.WithoutCancel(ctx), rec)

	rec.ApplyExecution(result.Record)
	rec.Attempts = result.Attempts
	out.Execution = result.Record
	out.Attempts = result.Attempts
	out.Retried = result.Retried
	if runErr != nil {
		return runErr
	}
	if result.Record == nil {
		return services.Wrap(services.ErrBackend, stageName, "track", "attempt produced no execution record", nil)
	}
	if err := result.Record.Err(); err != nil {
		return err
	}

	if !req.Analyze && !effective.AutoAnalysisEnabled {
		logger.Info("analysis skipped", logging.Args(logging.DecisionAttrs("analysis", "skipped", "automatic analysis disabled")...)...)
		return nil
	}
	if !req.hasKeyframes() {
		logger.Info("analysis skipped", logging.Args(logging.DecisionAttrs("analysis", "skipped", "no reference keyframes")...)...)
		return nil
	}
	verdict := r.score(ctx, logger, req, out, rec, result.Record, effective)
	decision := r.gate(effective).Decide(verdict)
	out.Verdict = &verdict
	out.Decision = decision
	rec.ApplyVerdict(verdict, decision)
	logger.Info("quality verdict",
		logging.Verdict(string(verdict.Verdict)),
		logging.String("decision", string(decision)),
		logging.Float64("average_similarity", verdict.Measured.AverageSimilarity),
		logging.Bool("evaluated", verdict.Evaluated))
	return nil
}

// checkPair validates the bookend keyframes before anything reaches the
// backend. Strict preflight blocks rejected pairs; otherwise the rejection is
// logged and noted in telemetry.
func (r *Runner) checkPair(logger *slog.Logger, req JobRequest, effective flags.FlagSet, rec *telemetry.Record) error {
	if !effective.KeyframePairAnalysisEnabled || !req.hasKeyframes() {
		return nil
	}
	start, err := os.ReadFile(req.StartKeyframe)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "keyframe pair", "read start keyframe", err)
	}
	end, err := os.ReadFile(req.EndKeyframe)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "keyframe pair", "read end keyframe", err)
	}
	result := preflight.CheckPair(start, end, preflight.PairOptions{
		MinDimension:    r.cfg.Preflight.MinDimension,
		VerifyChecksums: r.cfg.Quality.VerifyPNGChecksums,
	})
	if result.Allowed {
		logger.Debug("keyframe pair accepted")
		return nil
	}
	if effective.StrictPreflight {
		logging.WarnWithContext(logger, "keyframe pair rejected", "pair_rejected",
			logging.String("reason", result.Reason),
			logging.String(logging.FieldErrorHint, "fix the bookend keyframes or disable strict preflight"),
			logging.String(logging.FieldImpact, "job not submitted"))
		return result.Err()
	}
	logging.WarnWithContext(logger, "keyframe pair looks unusable", "pair_advisory",
		logging.String("reason", result.Reason),
		logging.String(logging.FieldErrorHint, "the artifact is unlikely to pass the quality gate"),
		logging.String(logging.FieldImpact, "job submitted anyway"))
	rec.Notes = append(rec.Notes, "keyframe pair: "+result.Reason)
	return nil
}

// admit runs the backend admission checks. Blocking results stop the job;
// advisories are logged and kept on the outcome.
func (r *Runner) admit(ctx context.Context, logger *slog.Logger, out *JobOutcome, rec *telemetry.Record) error {
	results := []preflight.Result{preflight.CheckBackend(ctx, r.backend)}
	if results[0].Passed {
		strict := r.cfg.Preflight.StrictAdmission
		results = append(results,
			preflight.CheckQueue(ctx, r.backend, r.cfg.Preflight.MaxQueueDepth, strict),
			preflight.CheckVRAM(ctx, r.backend, r.cfg.Preflight.MinFreeVRAMMB, strict))
	}
	if err := preflight.BlockingError(results); err != nil {
		logging.WarnWithContext(logger, "admission check failed", "admission_blocked",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check backend reachability and load"),
			logging.String(logging.FieldImpact, "job not submitted"))
		return err
	}
	for _, advisory := range preflight.Advisories(results) {
		logging.WarnWithContext(logger, "admission advisory", "admission_advisory",
			logging.String("check", advisory.Name),
			logging.String("detail", advisory.Detail),
			logging.String(logging.FieldErrorHint, "backend may be short on resources"),
			logging.String(logging.FieldImpact, "job submitted anyway"))
		out.Advisories = append(out.Advisories, advisory)
		rec.Notes = append(rec.Notes, fmt.Sprintf("%s: %s", advisory.Name, advisory.Detail))
	}
	return nil
}

// attempt submits the job once and tracks it to a terminal record. The push
// channel, when enabled, is opened before submission so no event is missed.
func (r *Runner) attempt(ctx context.Context, logger *slog.Logger, req JobRequest, out *JobOutcome, n int, push bool) (*tracker.Record, error) {
	logger = logger.With(logging.Attempt(n))

	var stream tracker.EventStream
	if push {
		sub, err := r.backend.Subscribe(ctx)
		if err != nil {
			logging.WarnWithContext(logger, "push channel unavailable", "push_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the backend events endpoint"),
				logging.String(logging.FieldImpact, "tracking falls back to polling"))
		} else {
			stream = sub
			defer sub.Close()
		}
	}

	handle, err := submit.New(r.backend, logger).Submit(ctx, req.Template, req.Inputs)
	if err != nil {
		return nil, err
	}
	submittedAt := r.clock.Now()
	out.BackendJobID = handle.ID
	r.recordAttempt(ctx, logger, out.JobID, handle.ID, n)

	progress := make(chan tracker.Update, progressBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.followProgress(ctx, logger, out.JobID, progress)
	}()

	t := tracker.New(r.backend, tracker.SettingsFromConfig(r.cfg.Tracking),
		tracker.WithClock(r.clock),
		tracker.WithLogger(logger),
		tracker.WithProbe(r.artifactProbe()),
		tracker.WithProgress(progress))
	var rec *tracker.Record
	if stream != nil {
		rec, err = t.TrackPush(ctx, stream, handle.ID, submittedAt)
	} else {
		rec, err = t.Track(ctx, handle.ID, submittedAt)
	}
	close(progress)
	<-done
	return rec, err
}

// followProgress logs sampled progress and mirrors queued/running into the
// job store.
func (r *Runner) followProgress(ctx context.Context, logger *slog.Logger, jobID string, updates <-chan tracker.Update) {
	sampler := logging.NewProgressSampler(10)
	var last tracker.State
	for u := range updates {
		if u.State != last {
			last = u.State
			switch u.State {
			case tracker.StateQueued:
				r.transitionJob(ctx, logger, jobID, jobstore.StatusQueued)
			case tracker.StateRunning:
				r.transitionJob(ctx, logger, jobID, jobstore.StatusRunning)
			}
		}
		if sampler.ShouldLog(u.Percent, u.Node) {
			attrs := []logging.Attr{
				logging.String("state", string(u.State)),
				logging.Float64("percent", u.Percent),
			}
			if node := strings.TrimSpace(u.Node); node != "" {
				attrs = append(attrs, logging.String("node", node))
			}
			if msg := strings.TrimSpace(u.Message); msg != "" {
				attrs = append(attrs, logging.String("detail", msg))
			}
			logger.Info("job progress", logging.Args(attrs...)...)
		}
	}
}

func (r *Runner) artifactProbe() tracker.ArtifactProbe {
	var probes tracker.AnyProbe
	if root := strings.TrimSpace(r.cfg.Paths.BackendOutputDir); root != "" {
		probes = append(probes, tracker.LocalFileProbe{Root: root})
	}
	return append(probes, tracker.ViewProbe{Backend: r.backend})
}
