package preflight

import (
	"context"
	"errors"
	"fmt"

	"framegate/internal/config"
	"framegate/internal/services"
)

// Result reports the outcome of a single preflight check. Advisory failures
// are reported but do not block the job.
type Result struct {
	Name     string
	Passed   bool
	Advisory bool
	Detail   string
	Err      error
}

// Blocking reports whether the result should stop the job.
func (r Result) Blocking() bool {
	return !r.Passed && !r.Advisory
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding threshold is set.
func RunAll(ctx context.Context, cfg *config.Config, b Backend) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results,
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Telemetry directory", cfg.Paths.TelemetryDir),
	)

	backendResult := CheckBackend(ctx, b)
	results = append(results, backendResult)
	if backendResult.Passed {
		strict := cfg.Preflight.StrictAdmission
		if cfg.Preflight.MaxQueueDepth > 0 {
			results = append(results, CheckQueue(ctx, b, cfg.Preflight.MaxQueueDepth, strict))
		}
		if cfg.Preflight.MinFreeVRAMMB > 0 {
			results = append(results, CheckVRAM(ctx, b, cfg.Preflight.MinFreeVRAMMB, strict))
		}
	}

	for _, status := range CheckSystemDeps(cfg) {
		if status.Available {
			results = append(results, Result{Name: status.Name, Passed: true, Detail: status.Path})
			continue
		}
		results = append(results, Result{
			Name:     status.Name,
			Advisory: status.Optional,
			Detail:   status.Detail,
			Err: services.Wrap(services.ErrExternalTool, "preflight", "dependency",
				fmt.Sprintf("%s: %s", status.Name, status.Detail), nil),
		})
	}
	return results
}

// BlockingError joins the errors of every blocking result, or returns nil.
func BlockingError(results []Result) error {
	var errs []error
	for _, r := range results {
		if !r.Blocking() {
			continue
		}
		err := r.Err
		if err == nil {
			err = fmt.Errorf("%s: %s", r.Name, r.Detail)
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Advisories returns the failed results that do not block.
func Advisories(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && r.Advisory {
			out = append(out, r)
		}
	}
	return out
}
