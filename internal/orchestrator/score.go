package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"framegate/internal/fileutil"
	"framegate/internal/flags"
	"framegate/internal/frames"
	"framegate/internal/imagedecode"
	"framegate/internal/logging"
	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/services/backend"
	"framegate/internal/similarity"
	"framegate/internal/telemetry"
	"framegate/internal/textutil"
	"framegate/internal/tracker"
)

// score fetches the artifact, compares its boundary frames with the
// keyframes, and evaluates the result against the sample's baseline. Any
// failure on the way produces a degraded FAIL verdict instead of an error.
func (r *Runner) score(ctx context.Context, logger *slog.Logger, req JobRequest, out *JobOutcome, rec *telemetry.Record, exec *tracker.Record, effective flags.FlagSet) quality.QualityVerdict {
	sampleID := req.SampleID
	if sampleID == "" {
		sampleID = req.SceneID
	}
	baseline, err := r.baseline(ctx, req, sampleID)
	if err != nil {
		return r.degrade(logger, sampleID, "baseline unavailable", err)
	}

	paths, cleanup, err := r.fetchArtifact(ctx, logger, out.JobID, exec)
	if err != nil {
		cleanup()
		return r.degrade(logger, sampleID, "artifact unavailable", err)
	}
	if !effective.ArchiveArtifacts {
		defer cleanup()
	}
	if effective.ArchiveArtifacts {
		paths = r.archive(logger, out.JobID, paths)
	}
	out.ArtifactPath = paths[len(paths)-1]
	rec.ArtifactPath = out.ArtifactPath
	if digest, err := fileutil.Digest(out.ArtifactPath); err == nil {
		rec.ArtifactDigest = digest
	} else {
		logger.Debug("artifact digest failed", logging.Error(err))
	}

	var boundary frames.Boundary
	if len(paths) > 1 {
		boundary, err = frames.FromSequence(paths)
	} else {
		boundary, err = r.extractor.ExtractBoundary(ctx, paths[0])
	}
	if err != nil {
		return r.degrade(logger, sampleID, "boundary frames unavailable", err)
	}

	measured, err := r.measure(req, boundary)
	if err != nil {
		return r.degrade(logger, sampleID, "frames not decodable", err)
	}
	logger.Debug("similarity measured",
		logging.Float64("start_similarity", measured.StartSimilarity),
		logging.Float64("end_similarity", measured.EndSimilarity),
		logging.Int("frame_count", boundary.FrameCount))
	return quality.Evaluate(measured, baseline)
}

// ScoreArtifact evaluates an artifact already on disk against req's
// keyframes without contacting the backend. Nothing is persisted.
func (r *Runner) ScoreArtifact(ctx context.Context, req JobRequest, artifactPath string) (quality.QualityVerdict, quality.Decision) {
	sampleID := req.SampleID
	if sampleID == "" {
		sampleID = req.SceneID
	}
	logger := logging.WithContext(services.WithSampleID(ctx, req.SampleID), r.logger).
		With(logging.String("artifact", artifactPath))
	gate := r.gate(r.cfg.EffectiveFlags())

	verdict := func() quality.QualityVerdict {
		if !req.hasKeyframes() {
			return r.degrade(logger, sampleID, "no reference keyframes", services.ErrValidation)
		}
		baseline, err := r.baseline(ctx, req, sampleID)
		if err != nil {
			return r.degrade(logger, sampleID, "baseline unavailable", err)
		}
		boundary, err := r.extractor.ExtractBoundary(ctx, artifactPath)
		if err != nil {
			return r.degrade(logger, sampleID, "boundary frames unavailable", err)
		}
		measured, err := r.measure(req, boundary)
		if err != nil {
			return r.degrade(logger, sampleID, "frames not decodable", err)
		}
		return quality.Evaluate(measured, baseline)
	}()
	return verdict, gate.Decide(verdict)
}

func (r *Runner) baseline(ctx context.Context, req JobRequest, sampleID string) (quality.Baseline, error) {
	defaults := quality.ThresholdsFromConfig(r.cfg.Quality)
	if req.Sample != nil {
		defaults = req.Sample.Thresholds(defaults)
	}
	if strings.TrimSpace(req.SampleID) == "" {
		return quality.Uncalibrated(sampleID, defaults), nil
	}
	baseline, err := quality.Lookup(ctx, r.baselines, req.SampleID, defaults)
	if err != nil {
		return quality.Baseline{}, err
	}
	if req.Sample != nil {
		baseline = req.Sample.ApplyOverrides(baseline)
	}
	return baseline, nil
}

// measure decodes the keyframes and boundary frames concurrently and
// compares them.
func (r *Runner) measure(req JobRequest, boundary frames.Boundary) (similarity.Result, error) {
	opts := imagedecode.Options{VerifyChecksums: r.cfg.Quality.VerifyPNGChecksums}
	var startRef, first, endRef, last imagedecode.PixelBuffer
	var g errgroup.Group
	g.Go(func() (err error) {
		startRef, err = imagedecode.DecodeFile(req.StartKeyframe, opts)
		return err
	})
	g.Go(func() (err error) {
		endRef, err = imagedecode.DecodeFile(req.EndKeyframe, opts)
		return err
	})
	g.Go(func() (err error) {
		first, err = imagedecode.DecodeWithOptions(boundary.First, opts)
		return err
	})
	g.Go(func() (err error) {
		last, err = imagedecode.DecodeWithOptions(boundary.Last, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return similarity.Result{}, err
	}
	return similarity.Compare(startRef, first, endRef, last), nil
}

func (r *Runner) degrade(logger *slog.Logger, sampleID, reason string, err error) quality.QualityVerdict {
	logging.WarnWithContext(logger, "artifact could not be evaluated", "verdict_degraded",
		logging.String("reason", reason),
		logging.Error(err),
		logging.Alert("unscored"),
		logging.String(logging.FieldErrorHint, "inspect the artifact and the job log"),
		logging.String(logging.FieldImpact, "verdict reported as FAIL without a score"))
	return quality.Degraded(sampleID, fmt.Sprintf("%s: %v", reason, err))
}

func (r *Runner) gate(effective flags.FlagSet) quality.Gate {
	return quality.Gate{Strict: effective.QualityGateEnabled}
}

// fetchArtifact returns local paths for the job's artifact: the animated
// output or single image, or every image of an image sequence. Outputs
// visible under the backend output directory are used in place; others are
// downloaded into the job's work directory, which cleanup removes.
func (r *Runner) fetchArtifact(ctx context.Context, logger *slog.Logger, jobID string, exec *tracker.Record) ([]string, func(), error) {
	jobDir := r.jobDir(jobID)
	cleanup := func() { _ = os.RemoveAll(jobDir) }
	if exec.Artifact == nil {
		return nil, cleanup, services.Wrap(services.ErrPostExecution, stageName, "fetch", "execution record has no artifact", nil)
	}
	targets := []backend.Output{*exec.Artifact}
	if !exec.Artifact.IsAnimated() {
		listing := backend.HistoryEntry{Found: true, Outputs: exec.Outputs}
		if images := listing.Images(); len(images) > 1 {
			targets = images
		}
	}
	paths := make([]string, 0, len(targets))
	for _, target := range targets {
		path, err := r.fetchOutput(ctx, jobDir, target)
		if err != nil {
			return nil, cleanup, err
		}
		paths = append(paths, path)
	}
	logger.Debug("artifact fetched", logging.Int("files", len(paths)), logging.String("path", paths[len(paths)-1]))
	return paths, cleanup, nil
}

// archive copies artifacts read in place from the backend output directory
// into the job's work directory so the archived copy outlives backend cleanup.
// A failed copy keeps the original path.
func (r *Runner) archive(logger *slog.Logger, jobID string, paths []string) []string {
	jobDir := r.jobDir(jobID)
	archived := make([]string, len(paths))
	for i, p := range paths {
		archived[i] = p
		if fileutil.Within(jobDir, p) {
			continue
		}
		dst := filepath.Join(jobDir, filepath.Base(p))
		if _, err := fileutil.CopyVerified(p, dst, 0o644); err != nil {
			logging.WarnWithContext(logger, "artifact archive failed", "archive_failed",
				logging.String("artifact", p),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check free space in the work directory"),
				logging.String(logging.FieldImpact, "artifact is only kept in the backend output directory"))
			continue
		}
		archived[i] = dst
	}
	logger.Debug("artifact archived", logging.String("dir", jobDir), logging.Int("files", len(paths)))
	return archived
}

func (r *Runner) jobDir(jobID string) string {
	return filepath.Join(r.cfg.Paths.WorkDir, jobID)
}

func (r *Runner) fetchOutput(ctx context.Context, jobDir string, out backend.Output) (string, error) {
	if root := strings.TrimSpace(r.cfg.Paths.BackendOutputDir); root != "" {
		local, err := tracker.LocalFileProbe{Root: root}.LocalPath(out)
		if err == nil {
			if info, statErr := os.Stat(local); statErr == nil && info.Mode().IsRegular() && info.Size() > 0 {
				return local, nil
			}
		}
	}
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("create job work directory: %w", err)
	}
	name := textutil.SanitizeFileName(out.Filename())
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	target := filepath.Join(jobDir, name)
	tmp := target + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	n, err := r.backend.Download(ctx, out, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = services.Wrap(services.ErrDecode, stageName, "fetch", fmt.Sprintf("%s is empty", out.Filename()), nil)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize download: %w", err)
	}
	return target, nil
}
