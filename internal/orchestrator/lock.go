package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"framegate/internal/logging"
	"framegate/internal/services"
	"framegate/internal/textutil"
)

const lockRetryDelay = 250 * time.Millisecond

// BackendLock serializes jobs against one backend across processes.
type BackendLock struct {
	path string
	lock *flock.Flock
}

// NewBackendLock returns the lock for baseURL under dir.
func NewBackendLock(dir, baseURL string) *BackendLock {
	path := filepath.Join(dir, textutil.SanitizeToken(baseURL)+".lock")
	return &BackendLock{path: path, lock: flock.New(path)}
}

// Path returns the lock file path.
func (l *BackendLock) Path() string { return l.path }

// Acquire blocks until the lock is held or ctx ends. The returned function
// releases it.
func (l *BackendLock) Acquire(ctx context.Context, logger *slog.Logger) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "lock", "create lock directory", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "lock", fmt.Sprintf("lock %s", l.path), err)
	}
	if !ok {
		logger.Info("waiting for another job on this backend", logging.String("lock", l.path))
		ok, err = l.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil || !ok {
			if ctx.Err() != nil {
				return nil, services.Wrap(services.ErrCancelled, "orchestrator", "lock", "cancelled waiting for backend lock", context.Cause(ctx))
			}
			return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "lock", fmt.Sprintf("lock %s", l.path), err)
		}
	}
	logger.Debug("backend lock acquired", logging.String("lock", l.path))
	return func() {
		if err := l.lock.Unlock(); err != nil {
			logger.Warn("failed to release backend lock", logging.String("lock", l.path), logging.Error(err))
		}
	}, nil
}

// Held reports whether another process currently holds the lock. It is used
// by status reporting and never blocks.
func (l *BackendLock) Held() (bool, error) {
	if _, err := os.Stat(filepath.Dir(l.path)); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	probe := flock.New(l.path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}
