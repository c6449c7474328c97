package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/logging"
	"framegate/internal/orchestrator"
	"framegate/internal/services"
)

// globalOptions holds the persistent flags. Non-empty values override the
// configuration file and environment.
type globalOptions struct {
	configPath string
	backendURL string
	logLevel   string
	json       bool
}

type commandContext struct {
	opts *globalOptions

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(opts *globalOptions) *commandContext {
	return &commandContext{opts: opts}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.opts.configPath))
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "config", "load configuration", err)
			return
		}
		if c.applyOverrides(cfg) {
			if err := cfg.Validate(); err != nil {
				c.configErr = services.Wrap(services.ErrConfiguration, "cli", "config", "command-line overrides", err)
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "config", "ensure directories", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) applyOverrides(cfg *config.Config) bool {
	changed := false
	if v := strings.TrimSpace(c.opts.backendURL); v != "" {
		cfg.Backend.URL = strings.TrimRight(v, "/")
		changed = true
	}
	if v := strings.TrimSpace(c.opts.logLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
		changed = true
	}
	return changed
}

func (c *commandContext) jsonOutput() bool {
	return c.opts.json
}

// logger writes to stderr so command output on stdout stays parseable, and
// duplicates into the log directory.
func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	outputs := []string{"stderr"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		outputs = append(outputs, filepath.Join(dir, logging.LogFileName))
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}

// withRunner opens the runner with its stores for the duration of fn.
func (c *commandContext) withRunner(fn func(*config.Config, *orchestrator.Runner) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "cli", "logging", "create logger", err)
	}
	runner, err := orchestrator.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return fn(cfg, runner)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
