package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/golden"
	"framegate/internal/orchestrator"
	"framegate/internal/services"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var stopOnError bool

	cmd := &cobra.Command{
		Use:   "batch [sample-id...]",
		Short: "Run golden samples back to back and report an exit code",
		Long: `Batch runs every golden sample under the samples directory, or only the
named ones, one at a time against the backend.

Exit status is 0 when every sample passed or warned, 1 when any sample failed
the gate or errored, and 2 when the environment prevented a run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(cfg *config.Config, runner *orchestrator.Runner) error {
				samples, err := selectSamples(cfg, args)
				if err != nil {
					return err
				}
				result := runner.RunSamples(cmd.Context(), samples, orchestrator.BatchOptions{ContinueOnError: !stopOnError})
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, newBatchView(result)); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					printOutcomes(out, result.Outcomes)
					printSummary(out, result.Summary(), result.Skipped)
				}
				return exitWith(result.ExitCode())
			})
		},
	}
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Stop after the first job error instead of continuing")
	return cmd
}

// selectSamples loads every sample, keeping only ids when any are given.
func selectSamples(cfg *config.Config, ids []string) ([]*golden.Sample, error) {
	all, err := golden.LoadAll(cfg.Paths.SamplesDir, cfg.Paths.WorkflowsDir)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		if len(all) == 0 {
			return nil, services.Wrap(services.ErrConfiguration, "cli", "batch",
				fmt.Sprintf("no golden samples under %s", cfg.Paths.SamplesDir), nil)
		}
		return all, nil
	}
	byID := make(map[string]*golden.Sample, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	selected := make([]*golden.Sample, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		s, ok := byID[strings.TrimSpace(id)]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		selected = append(selected, s)
	}
	if len(unknown) > 0 {
		return nil, services.Wrap(services.ErrConfiguration, "cli", "batch",
			"unknown samples: "+strings.Join(unknown, ", "), nil)
	}
	return selected, nil
}
