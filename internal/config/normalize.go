package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvOverrides()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	if err := c.normalizeQuality(); err != nil {
		return err
	}
	c.normalizeFFmpeg()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

// applyEnvOverrides lets FRAMEGATE_* variables win over file values so CI
// runners can point a shared config at their own backend.
func (c *Config) applyEnvOverrides() {
	if value, ok := lookupEnv("FRAMEGATE_BACKEND_URL"); ok {
		c.Backend.URL = value
	}
	if value, ok := lookupEnv("FRAMEGATE_BACKEND_DIALECT"); ok {
		c.Backend.Dialect = value
	}
	if value, ok := lookupEnv("FRAMEGATE_BACKEND_TOKEN"); ok {
		c.Backend.APIToken = value
	}
	if value, ok := lookupEnv("FRAMEGATE_NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	if value, ok := lookupEnv("FRAMEGATE_LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
	if value, ok := lookupEnv("FRAMEGATE_STATE_DIR"); ok {
		c.Paths.StateDir = value
	}
	if value, ok := lookupEnv("FRAMEGATE_RETRY_BUDGET"); ok {
		if n, err := strconv.Atoi(value); err == nil {
			c.Retry.Budget = n
		}
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.telemetry_dir", &c.Paths.TelemetryDir, defaultTelemetryDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.samples_dir", &c.Paths.SamplesDir, defaultSamplesDir},
		{"paths.workflows_dir", &c.Paths.WorkflowsDir, defaultWorkflowsDir},
		{"paths.backend_output_dir", &c.Paths.BackendOutputDir, ""},
	}
	for _, field := range fields {
		value := strings.TrimSpace(*field.value)
		if value == "" {
			value = field.fallback
		}
		expanded, err := expandPath(value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeBackend() {
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	if c.Backend.URL == "" {
		c.Backend.URL = defaultBackendURL
	}
	c.Backend.Dialect = strings.ToLower(strings.TrimSpace(c.Backend.Dialect))
	if c.Backend.Dialect == "" {
		c.Backend.Dialect = defaultBackendDialect
	}
	c.Backend.APIToken = strings.TrimSpace(c.Backend.APIToken)
	c.Backend.ClientID = strings.TrimSpace(c.Backend.ClientID)
}

func (c *Config) normalizeQuality() error {
	c.Quality.BaselineStore = strings.ToLower(strings.TrimSpace(c.Quality.BaselineStore))
	if c.Quality.BaselineStore == "" {
		c.Quality.BaselineStore = defaultBaselineStore
	}
	path := strings.TrimSpace(c.Quality.BaselinePath)
	if path == "" {
		name := "baselines.json"
		if c.Quality.BaselineStore == BaselineStoreSQLite {
			name = "baselines.db"
		}
		path = filepath.Join(c.Paths.StateDir, name)
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("quality.baseline_path: %w", err)
	}
	c.Quality.BaselinePath = expanded
	return nil
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	c.FFmpeg.NvidiaSMIBinary = strings.TrimSpace(c.FFmpeg.NvidiaSMIBinary)
	if c.FFmpeg.NvidiaSMIBinary == "" {
		c.FFmpeg.NvidiaSMIBinary = defaultNvidiaSMIBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
