package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"framegate/internal/clock"
	"framegate/internal/config"
	"framegate/internal/frames"
	"framegate/internal/jobstore"
	"framegate/internal/logging"
	"framegate/internal/notifications"
	"framegate/internal/preflight"
	"framegate/internal/quality"
	"framegate/internal/services/backend"
	"framegate/internal/submit"
	"framegate/internal/telemetry"
	"framegate/internal/tracker"
)

// Backend is everything a job needs from the generation backend.
// *backend.Client satisfies it.
type Backend interface {
	submit.Backend
	tracker.HistorySource
	tracker.ViewChecker
	preflight.Backend
	Download(ctx context.Context, out backend.Output, w io.Writer) (int64, error)
	Subscribe(ctx context.Context) (*backend.Subscription, error)
	BaseURL() string
}

// Runner executes jobs against one backend.
type Runner struct {
	cfg       *config.Config
	backend   Backend
	jobs      *jobstore.Store
	baselines quality.BaselineRepository
	notifier  notifications.Service
	recorder  *telemetry.Recorder
	extractor *frames.Extractor
	lock      *BackendLock
	jobLogs   *jobLogger
	clock     clock.Clock
	logger    *slog.Logger
	closers   []io.Closer
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock overrides the clock used for tracking, retries, and timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithJobStore mirrors job lifecycles into store.
func WithJobStore(store *jobstore.Store) Option {
	return func(r *Runner) { r.jobs = store }
}

// WithBaselines sets the baseline repository consulted by the gate.
func WithBaselines(repo quality.BaselineRepository) Option {
	return func(r *Runner) { r.baselines = repo }
}

// WithNotifier replaces the configured notification service.
func WithNotifier(n notifications.Service) Option {
	return func(r *Runner) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithRecorder replaces the telemetry recorder, typically to inject probes.
func WithRecorder(rec *telemetry.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithExtractor replaces the boundary frame extractor.
func WithExtractor(e *frames.Extractor) Option {
	return func(r *Runner) {
		if e != nil {
			r.extractor = e
		}
	}
}

// New builds a runner. Without WithJobStore and WithBaselines, jobs are not
// persisted and every sample is treated as uncalibrated.
func New(cfg *config.Config, b Backend, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		backend: b,
		clock:   clock.Real(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "orchestrator")
	if r.notifier == nil {
		r.notifier = notifications.NewService(cfg)
	}
	if r.recorder == nil {
		r.recorder = telemetry.NewRecorder(cfg.Paths.TelemetryDir, r.logger,
			telemetry.BackendProbe{Source: b},
			telemetry.SMIProbe{Binary: cfg.FFmpeg.NvidiaSMIBinary})
	}
	if r.extractor == nil {
		r.extractor = frames.NewFromConfig(cfg, r.logger)
	}
	r.lock = NewBackendLock(cfg.LockDir(), b.BaseURL())
	r.jobLogs = newJobLogger(cfg.Paths.LogDir, cfg.Logging.Level)
	return r
}

// Open builds a runner with the configured backend client, job store, and
// baseline store. Close releases the stores.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	client, err := backend.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	jobs, err := jobstore.OpenFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	baselines, err := quality.OpenRepository(cfg, logger)
	if err != nil {
		_ = jobs.Close()
		return nil, err
	}
	base := []Option{WithLogger(logger), WithJobStore(jobs), WithBaselines(baselines)}
	r := New(cfg, client, append(base, opts...)...)
	r.closers = append(r.closers, jobs, baselines)
	removed := r.jobLogs.prune(r.logger, r.clock.Now(), cfg.Logging.RetentionDays)
	if removed > 0 {
		r.logger.Debug("pruned job logs", logging.Int("removed", removed))
	}
	return r, nil
}

// Close releases the stores opened by Open.
func (r *Runner) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Jobs returns the job store, nil when jobs are not persisted.
func (r *Runner) Jobs() *jobstore.Store { return r.jobs }

// Baselines returns the baseline repository.
func (r *Runner) Baselines() quality.BaselineRepository { return r.baselines }

// Lock returns the per-backend lock.
func (r *Runner) Lock() *BackendLock { return r.lock }

// Backend returns the backend the runner submits to.
func (r *Runner) Backend() Backend { return r.backend }
