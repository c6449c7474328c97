package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/jobstore"
	"framegate/internal/orchestrator"
	"framegate/internal/preflight"
)

type checkView struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Advisory bool   `json:"advisory,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type statusView struct {
	Backend  string         `json:"backend"`
	Checks   []checkView    `json:"checks"`
	LockPath string         `json:"lockPath"`
	LockHeld bool           `json:"lockHeld"`
	Jobs     map[string]int `json:"jobs"`
	Ready    bool           `json:"ready"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check dependencies, directories, and backend readiness",
		Long: `Status runs the preflight checks a job would run, reports whether another
job holds the backend, and tallies recorded jobs. It exits 2 when a blocking
check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(cfg *config.Config, runner *orchestrator.Runner) error {
				results := preflight.RunAll(cmd.Context(), cfg, runner.Backend())
				samples := preflight.CheckDirectoryAccess("Samples directory", cfg.Paths.SamplesDir)
				samples.Advisory = true
				results = append(results, samples)

				view := statusView{
					Backend:  runner.Backend().BaseURL(),
					LockPath: runner.Lock().Path(),
					Jobs:     map[string]int{},
					Ready:    preflight.BlockingError(results) == nil,
				}
				for _, r := range results {
					view.Checks = append(view.Checks, checkView{Name: r.Name, Passed: r.Passed, Advisory: r.Advisory, Detail: r.Detail})
				}
				held, lockErr := runner.Lock().Held()
				view.LockHeld = held
				stats, err := runner.Jobs().Stats(cmd.Context())
				if err != nil {
					return err
				}
				for _, status := range jobstore.AllStatuses() {
					view.Jobs[string(status)] = stats[status]
				}

				if ctx.jsonOutput() {
					if err := writeJSON(cmd, view); err != nil {
						return err
					}
				} else {
					printStatus(cmd, cfg, view, lockErr)
				}
				if !view.Ready {
					return exitWith(orchestrator.ExitSetupFailure)
				}
				return nil
			})
		},
	}
}

func printStatus(cmd *cobra.Command, cfg *config.Config, view statusView, lockErr error) {
	p := newStatusPrinter(cmd.OutOrStdout())

	p.section("Preflight")
	p.line("Backend URL", statusInfo, fmt.Sprintf("%s (%s dialect)", view.Backend, cfg.Backend.Dialect))
	for _, c := range view.Checks {
		switch {
		case c.Passed:
			p.line(c.Name, statusOK, c.Detail)
		case c.Advisory:
			p.line(c.Name, statusWarn, c.Detail)
		default:
			p.line(c.Name, statusError, c.Detail)
		}
	}

	p.section("Backend Lock")
	switch {
	case lockErr != nil:
		p.line("Lock", statusWarn, lockErr.Error())
	case view.LockHeld:
		p.line("Lock", statusInfo, "a job is running against this backend ("+view.LockPath+")")
	default:
		p.line("Lock", statusOK, "idle")
	}

	p.section("Flags")
	effective := cfg.EffectiveFlags()
	p.line("Quality gate", statusInfo, gateMode(effective.QualityGateEnabled))
	p.line("Automatic analysis", statusInfo, yesNo(effective.AutoAnalysisEnabled))
	p.line("Strict preflight", statusInfo, yesNo(effective.StrictPreflight))

	p.section("Jobs")
	total := 0
	for _, status := range jobstore.AllStatuses() {
		total += view.Jobs[string(status)]
	}
	if total == 0 {
		p.line("History", statusInfo, "no jobs recorded")
		return
	}
	rows := make([][]string, 0, len(view.Jobs))
	for _, status := range jobstore.AllStatuses() {
		if n := view.Jobs[string(status)]; n > 0 {
			rows = append(rows, []string{string(status), fmt.Sprintf("%d", n)})
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{{title: "Status"}, {title: "Count", numeric: true}}, rows))
}

func gateMode(strict bool) string {
	if strict {
		return "strict (FAIL blocks pending override)"
	}
	return "permissive (FAIL accepted with warning)"
}
