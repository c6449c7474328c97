package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"framegate/internal/config"
	"framegate/internal/orchestrator"
	"framegate/internal/quality"
	"framegate/internal/services/backend"
	"framegate/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeBackend
	configPath string
}

func setupCLITestEnv(t *testing.T, mutate func(*config.Config)) *cliTestEnv {
	t.Helper()
	fake := testsupport.NewFakeBackend(t)
	fake.SetDevices(testsupport.FakeDevice{Name: "RTX 4090", TotalBytes: 24 << 30, FreeBytes: 20 << 30})
	cfg := testsupport.NewConfig(t,
		testsupport.WithBackend(fake),
		testsupport.WithFastTracking(),
		testsupport.WithStubbedBinaries("ffmpeg", "ffprobe", "nvidia-smi"))
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, fake: fake, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// run executes the CLI and returns stdout with the process exit code.
func (env *cliTestEnv) run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		t.Logf("framegate %s: %v", strings.Join(args, " "), err)
	}
	return stdout.String(), exitCode(err)
}

// sample writes a golden sample whose backend artifact is artifact.
func (env *cliTestEnv) sample(t *testing.T, id string, keyframe, artifact []byte) {
	t.Helper()
	testsupport.WriteSample(t, env.cfg.Paths.SamplesDir, testsupport.SampleFixture{ID: id, Start: keyframe})
	out := backend.Output{MediaType: backend.MediaImage, Path: "golden/" + id + ".png"}
	env.fake.CompleteAfter(1, out)
	env.fake.ServeArtifact(out.Path, artifact)
}

func gradient(t *testing.T) []byte {
	return testsupport.KeyframePNG(t, 16, 16, testsupport.GradientRGB(16, 16))
}

func stripes(t *testing.T, invert bool) []byte {
	t.Helper()
	pixels := make([]byte, 0, 16*16*3)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := byte(0)
			if x%2 == 0 {
				v = 255
			}
			if invert {
				v = 255 - v
			}
			pixels = append(pixels, v, v, v)
		}
	}
	return testsupport.KeyframePNG(t, 16, 16, pixels)
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func TestBatchCommandPassExitsZero(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	env.sample(t, "lighthouse", gradient(t), gradient(t))

	out, code := env.run(t, "--json", "batch")
	if code != orchestrator.ExitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	view := decodeJSON[batchView](t, out)
	if view.Total != 1 || view.Passed != 1 || len(view.Outcomes) != 1 {
		t.Fatalf("unexpected batch view %+v", view)
	}
	got := view.Outcomes[0]
	if got.Verdict == nil || got.Verdict.Verdict != quality.VerdictPass || got.Decision != quality.DecisionAccept {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if got.ExitReason != "success" || got.TelemetryPath == "" {
		t.Fatalf("missing exit reason in %+v", got)
	}
}

func TestBatchCommandFailExitsOne(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	env.sample(t, "pier", stripes(t, false), stripes(t, true))

	out, code := env.run(t, "batch")
	if code != orchestrator.ExitQualityFail {
		t.Fatalf("expected exit 1, got %d: %s", code, out)
	}
	if !strings.Contains(out, "FAIL") || !strings.Contains(out, "block_override") {
		t.Fatalf("expected failing row in table:\n%s", out)
	}
	if !strings.Contains(out, "1 samples: 0 passed, 0 warned, 1 failed") {
		t.Fatalf("expected summary line:\n%s", out)
	}
}

func TestBatchCommandWithoutSamplesExitsTwo(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	if _, code := env.run(t, "batch"); code != orchestrator.ExitSetupFailure {
		t.Fatalf("expected exit 2 without samples, got %d", code)
	}
	env.sample(t, "lighthouse", gradient(t), gradient(t))
	if _, code := env.run(t, "batch", "missing"); code != orchestrator.ExitSetupFailure {
		t.Fatalf("expected exit 2 for unknown sample, got %d", code)
	}
	if len(env.fake.Submissions()) != 0 {
		t.Fatal("setup failures must not submit")
	}
}

func TestRunCommandRequiresSampleOrWorkflow(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	if _, code := env.run(t, "run", "--start", "a.png"); code != orchestrator.ExitSetupFailure {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunCommandSample(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	env.sample(t, "lighthouse", gradient(t), gradient(t))

	out, code := env.run(t, "--json", "run", "lighthouse")
	if code != orchestrator.ExitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	view := decodeJSON[outcomeView](t, out)
	if view.SampleID != "lighthouse" || view.TelemetryPath == "" || view.Attempts != 1 {
		t.Fatalf("unexpected outcome %+v", view)
	}

	jobsOut, code := env.run(t, "--json", "jobs")
	if code != orchestrator.ExitOK {
		t.Fatalf("jobs exit %d", code)
	}
	if !strings.Contains(jobsOut, view.JobID) {
		t.Fatalf("expected job %s in listing:\n%s", view.JobID, jobsOut)
	}
	showOut, code := env.run(t, "jobs", "show", view.JobID[:8])
	if code != orchestrator.ExitOK || !strings.Contains(showOut, "succeeded") {
		t.Fatalf("unexpected jobs show (exit %d):\n%s", code, showOut)
	}
}

func TestCheckPairCommand(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	dir := t.TempDir()
	start := filepath.Join(dir, "start.png")
	solid := filepath.Join(dir, "solid.png")
	testsupport.WriteFile(t, start, gradient(t))
	testsupport.WriteFile(t, solid, testsupport.KeyframePNG(t, 16, 16, testsupport.SolidRGB(16, 16, 9, 9, 9)))

	out, code := env.run(t, "--json", "check-pair", start, start)
	if code != orchestrator.ExitOK {
		t.Fatalf("expected accepted pair, exit %d: %s", code, out)
	}
	view := decodeJSON[pairView](t, out)
	if !view.Allowed || view.Similarity == nil || *view.Similarity != 100 || view.StartSize != "16x16" {
		t.Fatalf("unexpected pair view %+v", view)
	}

	out, code = env.run(t, "check-pair", start, solid)
	if code != orchestrator.ExitQualityFail || !strings.Contains(out, "single solid color") {
		t.Fatalf("expected rejection, exit %d:\n%s", code, out)
	}

	if _, code := env.run(t, "check-pair", "--min-dimension", "32", start, start); code != orchestrator.ExitQualityFail {
		t.Fatalf("expected min-dimension rejection, exit %d", code)
	}
}

func TestScoreCommand(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	dir := t.TempDir()
	keyframe := filepath.Join(dir, "keyframe.png")
	artifact := filepath.Join(dir, "artifact.png")
	testsupport.WriteFile(t, keyframe, stripes(t, false))
	testsupport.WriteFile(t, artifact, stripes(t, false))

	out, code := env.run(t, "--json", "score", "--start", keyframe, "--end", keyframe, artifact)
	if code != orchestrator.ExitOK {
		t.Fatalf("expected pass, exit %d: %s", code, out)
	}
	if view := decodeJSON[scoreView](t, out); view.Verdict.Verdict != quality.VerdictPass {
		t.Fatalf("unexpected score %+v", view)
	}

	testsupport.WriteFile(t, artifact, stripes(t, true))
	if out, code := env.run(t, "score", "--start", keyframe, "--end", keyframe, artifact); code != orchestrator.ExitQualityFail {
		t.Fatalf("expected fail, exit %d:\n%s", code, out)
	}
	if _, code := env.run(t, "score", artifact); code != orchestrator.ExitSetupFailure {
		t.Fatalf("expected exit 2 without keyframes, got %d", code)
	}
}

func TestBaselinePromoteAndShow(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	testsupport.WriteSample(t, env.cfg.Paths.SamplesDir, testsupport.SampleFixture{ID: "harbor", Extra: "warn_threshold: 50\n"})

	out, code := env.run(t, "--json", "baseline", "show", "harbor")
	if code != orchestrator.ExitOK {
		t.Fatalf("show exit %d", code)
	}
	before := decodeJSON[quality.Baseline](t, out)
	if before.Calibrated() || before.WarnThreshold != 50 || before.FailThreshold != 25 {
		t.Fatalf("unexpected uncalibrated baseline %+v", before)
	}

	if _, code := env.run(t, "baseline", "promote", "harbor"); code != orchestrator.ExitSetupFailure {
		t.Fatalf("promote without a source should exit 2, got %d", code)
	}
	if _, code := env.run(t, "baseline", "promote", "harbor", "--similarity", "87.5"); code != orchestrator.ExitOK {
		t.Fatalf("promote exit %d", code)
	}

	out, _ = env.run(t, "--json", "baseline", "show", "harbor")
	after := decodeJSON[quality.Baseline](t, out)
	if !after.Calibrated() || *after.BaselineAverageSimilarity != 87.5 || after.WarnThreshold != 50 {
		t.Fatalf("unexpected promoted baseline %+v", after)
	}

	out, _ = env.run(t, "baseline", "list")
	if !strings.Contains(out, "harbor") || !strings.Contains(out, "87.50") {
		t.Fatalf("expected baseline row:\n%s", out)
	}
}

func TestBaselinePromoteFromJob(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	env.sample(t, "lighthouse", gradient(t), gradient(t))
	out, code := env.run(t, "--json", "run", "lighthouse")
	if code != orchestrator.ExitOK {
		t.Fatalf("run exit %d: %s", code, out)
	}
	job := decodeJSON[outcomeView](t, out)

	if _, code := env.run(t, "baseline", "promote", "other", "--job", job.JobID); code != orchestrator.ExitQualityFail {
		t.Fatalf("promoting another sample's job should fail validation, got %d", code)
	}
	if _, code := env.run(t, "baseline", "promote", "lighthouse", "--job", job.JobID); code != orchestrator.ExitOK {
		t.Fatalf("promote exit %d", code)
	}
	out, _ = env.run(t, "--json", "baseline", "show", "lighthouse")
	if b := decodeJSON[quality.Baseline](t, out); !b.Calibrated() || *b.BaselineAverageSimilarity != 100 {
		t.Fatalf("unexpected baseline %+v", b)
	}
}

func TestFlagsCommandReportsForcedFlags(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Flags.MasterQAMode = true
		cfg.Flags.AutoAnalysisEnabled = false
	})
	out, code := env.run(t, "--json", "flags")
	if code != orchestrator.ExitOK {
		t.Fatalf("flags exit %d", code)
	}
	for _, v := range decodeJSON[[]flagView](t, out) {
		if v.Name == "auto_analysis_enabled" && (v.Base || !v.Effective || !v.Forced) {
			t.Fatalf("expected auto analysis forced on, got %+v", v)
		}
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	out, code := env.run(t, "--json", "status")
	if code != orchestrator.ExitOK {
		t.Fatalf("expected ready status, exit %d: %s", code, out)
	}
	view := decodeJSON[statusView](t, out)
	if !view.Ready || view.LockHeld || view.Backend != env.fake.URL() {
		t.Fatalf("unexpected status %+v", view)
	}

	out, code = env.run(t, "--backend", "http://127.0.0.1:1", "status")
	if code != orchestrator.ExitSetupFailure || !strings.Contains(out, "ERROR") {
		t.Fatalf("expected unreachable backend to exit 2 (got %d):\n%s", code, out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "framegate", "config.toml")
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}

	stdout.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", target, "config", "validate"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(stdout.String(), "Configuration valid") {
		t.Fatalf("unexpected validate output:\n%s", stdout.String())
	}
}
