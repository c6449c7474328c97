package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"framegate/internal/flags"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend dialects understood by the backend client.
const (
	DialectGeneric = "generic"
	DialectComfyUI = "comfyui"
)

// Baseline store kinds.
const (
	BaselineStoreJSON   = "json"
	BaselineStoreSQLite = "sqlite"
)

// Paths contains directory configuration.
type Paths struct {
	StateDir     string `toml:"state_dir"`
	WorkDir      string `toml:"work_dir"`
	TelemetryDir string `toml:"telemetry_dir"`
	LogDir       string `toml:"log_dir"`
	SamplesDir   string `toml:"samples_dir"`
	WorkflowsDir string `toml:"workflows_dir"`
	// BackendOutputDir is the backend's output directory when it is visible
	// from this host. Artifacts are confirmed on disk there before falling
	// back to the backend's view endpoint.
	BackendOutputDir string `toml:"backend_output_dir"`
}

// Backend describes how to reach the generation backend.
type Backend struct {
	URL            string `toml:"url"`
	Dialect        string `toml:"dialect"`
	APIToken       string `toml:"api_token"`
	ClientID       string `toml:"client_id"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Tracking bounds the execution tracker's polling protocol.
type Tracking struct {
	MaxWaitSeconds              int `toml:"max_wait_seconds"`
	HistoryAttemptLimit         int `toml:"history_attempt_limit"`
	PollIntervalSeconds         int `toml:"poll_interval_seconds"`
	PostExecutionTimeoutSeconds int `toml:"post_execution_timeout_seconds"`
}

// Retry configures the retry coordinator.
type Retry struct {
	Budget         int  `toml:"budget"`
	RetryUnknown   bool `toml:"retry_unknown"`
	BackoffSeconds int  `toml:"backoff_seconds"`
}

// Quality configures the similarity gate and baseline storage.
type Quality struct {
	FailThreshold      float64 `toml:"fail_threshold"`
	WarnThreshold      float64 `toml:"warn_threshold"`
	BaselineStore      string  `toml:"baseline_store"`
	BaselinePath       string  `toml:"baseline_path"`
	VerifyPNGChecksums bool    `toml:"verify_png_checksums"`
}

// Preflight configures admission checks that run before submission.
type Preflight struct {
	MinFreeVRAMMB   int  `toml:"min_free_vram_mb"`
	MaxQueueDepth   int  `toml:"max_queue_depth"`
	StrictAdmission bool `toml:"strict_admission"`
	MinDimension    int  `toml:"min_dimension"`
}

// FFmpeg names the external binaries used for frame extraction and GPU probing.
type FFmpeg struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	NvidiaSMIBinary string `toml:"nvidia_smi_binary"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Verdicts       bool   `toml:"verdicts"`
	Batch          bool   `toml:"batch"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for framegate.
//
// Configuration sections by subsystem:
//   - Paths: state, work, telemetry, log, and fixture directories
//   - Backend: generation backend URL, dialect, and credentials
//   - Tracking: execution tracker bounds
//   - Retry: retry budget for transport failures
//   - Quality: similarity thresholds and baseline storage
//   - Preflight: admission checks before submission
//   - Flags: base feature flags (read through EffectiveFlags)
//   - FFmpeg: external binaries
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Tracking      Tracking      `toml:"tracking"`
	Retry         Retry         `toml:"retry"`
	Quality       Quality       `toml:"quality"`
	Preflight     Preflight     `toml:"preflight"`
	Flags         flags.FlagSet `toml:"flags"`
	FFmpeg        FFmpeg        `toml:"ffmpeg"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// EffectiveFlags returns the resolved flag set. Callers must read flags
// through this method rather than Config.Flags so derived flags stay coupled.
func (c *Config) EffectiveFlags() flags.FlagSet {
	if c == nil {
		return flags.Resolve(defaultFlags())
	}
	return flags.Resolve(c.Flags)
}

func defaultFlags() flags.FlagSet {
	return flags.FlagSet{
		KeyframePairAnalysisEnabled: true,
		QualityGateEnabled:          true,
		NotifyOnFail:                true,
	}
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/framegate/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config or in the
// working directory is loaded first so environment fallbacks can see it.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env"), ".env")

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv loads each existing file without overriding variables that are
// already set in the process environment.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("framegate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.TelemetryDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JobStorePath returns the SQLite job history database path.
func (c *Config) JobStorePath() string {
	return filepath.Join(c.Paths.StateDir, "jobs.db")
}

// LockDir returns the directory holding per-backend lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
