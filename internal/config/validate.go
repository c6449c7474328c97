package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateTracking(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validatePreflight(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.url must be an absolute http(s) URL, got %q", c.Backend.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.url scheme must be http or https, got %q", parsed.Scheme)
	}
	switch c.Backend.Dialect {
	case DialectGeneric, DialectComfyUI:
	default:
		return fmt.Errorf("backend.dialect must be %q or %q, got %q", DialectGeneric, DialectComfyUI, c.Backend.Dialect)
	}
	if c.Backend.RequestTimeout <= 0 {
		return errors.New("backend.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateTracking() error {
	if err := ensurePositiveMap(map[string]int{
		"tracking.max_wait_seconds":      c.Tracking.MaxWaitSeconds,
		"tracking.poll_interval_seconds": c.Tracking.PollIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Tracking.HistoryAttemptLimit < 0 {
		return errors.New("tracking.history_attempt_limit must be zero (unbounded) or positive")
	}
	if c.Tracking.PostExecutionTimeoutSeconds < 0 {
		return errors.New("tracking.post_execution_timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.Budget < 0 {
		return errors.New("retry.budget must not be negative")
	}
	if c.Retry.BackoffSeconds < 0 {
		return errors.New("retry.backoff_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateQuality() error {
	if err := ValidateThresholds(c.Quality.FailThreshold, c.Quality.WarnThreshold); err != nil {
		return err
	}
	switch c.Quality.BaselineStore {
	case BaselineStoreJSON, BaselineStoreSQLite:
	default:
		return fmt.Errorf("quality.baseline_store must be %q or %q, got %q", BaselineStoreJSON, BaselineStoreSQLite, c.Quality.BaselineStore)
	}
	return nil
}

// ValidateThresholds checks a fail/warn pair: both within [0,100] and fail
// strictly below warn.
func ValidateThresholds(fail, warn float64) error {
	if fail < 0 || fail > 100 || warn < 0 || warn > 100 {
		return errors.New("quality thresholds must be between 0 and 100")
	}
	if fail >= warn {
		return fmt.Errorf("quality.fail_threshold (%.2f) must be below quality.warn_threshold (%.2f)", fail, warn)
	}
	return nil
}

func (c *Config) validatePreflight() error {
	if c.Preflight.MinFreeVRAMMB < 0 {
		return errors.New("preflight.min_free_vram_mb must not be negative")
	}
	if c.Preflight.MaxQueueDepth < 0 {
		return errors.New("preflight.max_queue_depth must not be negative")
	}
	if c.Preflight.MinDimension < 0 {
		return errors.New("preflight.min_dimension must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
