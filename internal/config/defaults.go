package config

const (
	defaultStateDir                    = "~/.local/share/framegate"
	defaultWorkDir                     = "~/.local/share/framegate/work"
	defaultTelemetryDir                = "~/.local/share/framegate/telemetry"
	defaultLogDir                      = "~/.local/share/framegate/logs"
	defaultSamplesDir                  = "~/.local/share/framegate/samples"
	defaultWorkflowsDir                = "~/.config/framegate/workflows"
	defaultBackendURL                  = "http://127.0.0.1:8188"
	defaultBackendDialect              = DialectGeneric
	defaultBackendRequestTimeout       = 30
	defaultMaxWaitSeconds              = 600
	defaultHistoryAttemptLimit         = 0
	defaultPollIntervalSeconds         = 2
	defaultPostExecutionTimeoutSeconds = 30
	defaultRetryBudget                 = 1
	defaultRetryBackoffSeconds         = 5
	defaultFailThreshold               = 25.0
	defaultWarnThreshold               = 35.0
	defaultBaselineStore               = BaselineStoreJSON
	defaultFFmpegBinary                = "ffmpeg"
	defaultFFprobeBinary               = "ffprobe"
	defaultNvidiaSMIBinary             = "nvidia-smi"
	defaultNotifyRequestTimeout        = 10
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
	defaultLogRetentionDays            = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:     defaultStateDir,
			WorkDir:      defaultWorkDir,
			TelemetryDir: defaultTelemetryDir,
			LogDir:       defaultLogDir,
			SamplesDir:   defaultSamplesDir,
			WorkflowsDir: defaultWorkflowsDir,
		},
		Backend: Backend{
			URL:            defaultBackendURL,
			Dialect:        defaultBackendDialect,
			RequestTimeout: defaultBackendRequestTimeout,
		},
		Tracking: Tracking{
			MaxWaitSeconds:              defaultMaxWaitSeconds,
			HistoryAttemptLimit:         defaultHistoryAttemptLimit,
			PollIntervalSeconds:         defaultPollIntervalSeconds,
			PostExecutionTimeoutSeconds: defaultPostExecutionTimeoutSeconds,
		},
		Retry: Retry{
			Budget:         defaultRetryBudget,
			BackoffSeconds: defaultRetryBackoffSeconds,
		},
		Quality: Quality{
			FailThreshold: defaultFailThreshold,
			WarnThreshold: defaultWarnThreshold,
			BaselineStore: defaultBaselineStore,
		},
		Flags: defaultFlags(),
		FFmpeg: FFmpeg{
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			NvidiaSMIBinary: defaultNvidiaSMIBinary,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Verdicts:       true,
			Batch:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
