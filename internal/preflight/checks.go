package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"framegate/internal/config"
	"framegate/internal/deps"
	"framegate/internal/services"
	"framegate/internal/services/backend"
)

const checkTimeout = 5 * time.Second

// Backend is the surface the admission checks query.
type Backend interface {
	Ping(ctx context.Context) error
	Queue(ctx context.Context) (backend.QueueSnapshot, error)
	SystemStats(ctx context.Context) (backend.SystemStats, error)
}

// CheckBackend verifies the generation backend answers.
func CheckBackend(ctx context.Context, b Backend) Result {
	const name = "Generation backend"
	if b == nil {
		return Result{Name: name, Detail: "not configured", Err: services.Wrap(services.ErrConfiguration, "preflight", "backend", "no backend client", nil)}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := b.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeBackendError(err), Err: err}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckQueue admits the job only while the backend queue holds at most
// maxDepth running plus pending jobs.
func CheckQueue(ctx context.Context, b Backend, maxDepth int, strict bool) Result {
	const name = "Backend queue"
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	snapshot, err := b.Queue(checkCtx)
	if err != nil {
		return Result{Name: name, Advisory: !strict, Detail: fmt.Sprintf("queue unavailable (%s)", summarizeBackendError(err)), Err: err}
	}
	depth := snapshot.Depth()
	detail := fmt.Sprintf("%d running, %d pending", snapshot.Running, snapshot.Pending)
	if maxDepth > 0 && depth > maxDepth {
		return Result{
			Name:     name,
			Advisory: !strict,
			Detail:   fmt.Sprintf("%s (limit %d)", detail, maxDepth),
			Err: services.Wrap(services.ErrResourceExhaustion, "preflight", "queue depth",
				fmt.Sprintf("backend queue depth %d exceeds %d", depth, maxDepth), nil),
		}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckVRAM compares the primary device's free memory with minFreeMB. VRAM
// is never reserved; the result only says whether the job is likely to fit.
func CheckVRAM(ctx context.Context, b Backend, minFreeMB int, strict bool) Result {
	const name = "GPU memory"
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	stats, err := b.SystemStats(checkCtx)
	if err != nil {
		return Result{Name: name, Advisory: true, Detail: fmt.Sprintf("system stats unavailable (%s)", summarizeBackendError(err)), Err: err}
	}
	device, ok := stats.Primary()
	if !ok {
		return Result{Name: name, Advisory: true, Detail: "backend reported no devices"}
	}
	detail := fmt.Sprintf("%s: %.0f MB free of %.0f MB", device.Name, device.VRAMFreeMB, device.VRAMTotalMB)
	if minFreeMB > 0 && device.VRAMFreeMB < float64(minFreeMB) {
		return Result{
			Name:     name,
			Advisory: !strict,
			Detail:   fmt.Sprintf("%s (need %d MB)", detail, minFreeMB),
			Err: services.Wrap(services.ErrResourceExhaustion, "preflight", "vram",
				fmt.Sprintf("%.0f MB free, %d MB required", device.VRAMFreeMB, minFreeMB), nil),
		}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	fail := func(detail string) Result {
		return Result{Name: name, Detail: detail, Err: services.Wrap(services.ErrConfiguration, "preflight", "directory access", detail, nil)}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(fmt.Sprintf("%s (error: does not exist)", path))
		}
		return fail(fmt.Sprintf("%s (error: stat: %v)", path, err))
	}
	if !info.IsDir() {
		return fail(fmt.Sprintf("%s (error: is not a directory)", path))
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail(fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err))
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries framegate shells out to.
// Both RunAll and the CLI status command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpeg.FFmpegBinary,
			Description: "Required for boundary frame extraction",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFmpeg.FFprobeBinary,
			Description: "Required for artifact inspection",
		},
		{
			Name:        "nvidia-smi",
			Command:     cfg.FFmpeg.NvidiaSMIBinary,
			Description: "Fallback GPU telemetry when the backend omits system stats",
			Optional:    true,
		},
	})
	// A bare ffprobe name also resolves next to an explicit ffmpeg path.
	if deps.IsBareName(cfg.FFmpeg.FFprobeBinary) && !statuses[1].Available {
		companion := deps.CheckCompanion(cfg.FFmpeg.FFmpegBinary, cfg.FFmpeg.FFprobeBinary, statuses[1].Description)
		companion.Name = statuses[1].Name
		statuses[1] = companion
	}
	return statuses
}

// summarizeBackendError produces a human-readable summary for backend check failures.
func summarizeBackendError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out (backend unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (backend unreachable)"
	}
	return err.Error()
}
