package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"framegate/internal/logging"
	"framegate/internal/textutil"
)

// jobLogDir is where per-job log files live under the log directory.
const jobLogDir = "jobs"

// jobLogger captures one job's lines into a dedicated JSON file alongside the
// shared logger. A job whose log file cannot be opened still runs with the
// shared logger only.
type jobLogger struct {
	baseDir string
	level   string
}

func newJobLogger(logDir, level string) *jobLogger {
	dir := ""
	if strings.TrimSpace(logDir) != "" {
		dir = filepath.Join(logDir, jobLogDir)
	}
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	return &jobLogger{baseDir: dir, level: level}
}

// open returns the tee'd logger, the file path, and a close function.
func (j *jobLogger) open(base *slog.Logger, jobID, name string, now time.Time) (*slog.Logger, string, func()) {
	if j == nil || j.baseDir == "" {
		return base, "", func() {}
	}
	if err := os.MkdirAll(j.baseDir, 0o755); err != nil {
		base.Debug("job log directory unavailable", logging.Error(err))
		return base, "", func() {}
	}
	path := filepath.Join(j.baseDir, j.filename(jobID, name, now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		base.Debug("job log file unavailable", logging.String("path", path), logging.Error(err))
		return base, "", func() {}
	}
	logger := logging.TeeLogger(base, logging.NewJSONWriterHandler(file, j.level))
	return logger, path, func() { _ = file.Close() }
}

func (j *jobLogger) filename(jobID, name string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s.log", now.UTC().Format("20060102T150405"), textutil.SanitizeToken(name), jobID)
}

// prune removes job logs older than the retention window.
func (j *jobLogger) prune(logger *slog.Logger, now time.Time, retentionDays int) int {
	if j == nil || j.baseDir == "" {
		return 0
	}
	return logging.PruneOlderThan(logger, now, retentionDays, logging.RetentionTarget{Dir: j.baseDir, Pattern: "*.log"})
}
