package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/golden"
	"framegate/internal/jobstore"
	"framegate/internal/orchestrator"
	"framegate/internal/quality"
	"framegate/internal/services"
	"framegate/internal/similarity"
)

var baselineColumns = []column{
	{title: "Sample"},
	{title: "Baseline", numeric: true},
	{title: "Fail <", numeric: true},
	{title: "Warn <", numeric: true},
	{title: "Updated"},
}

func newBaselineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Inspect and promote golden sample baselines",
	}
	cmd.AddCommand(newBaselineListCommand(ctx))
	cmd.AddCommand(newBaselineShowCommand(ctx))
	cmd.AddCommand(newBaselinePromoteCommand(ctx))
	return cmd
}

func newBaselineListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(_ *config.Config, runner *orchestrator.Runner) error {
				baselines, err := runner.Baselines().ListBaselines(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if baselines == nil {
						baselines = []quality.Baseline{}
					}
					return writeJSON(cmd, baselines)
				}
				if len(baselines) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No baselines promoted yet")
					return nil
				}
				rows := make([][]string, 0, len(baselines))
				for _, b := range baselines {
					rows = append(rows, baselineRow(b))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(baselineColumns, rows))
				return nil
			})
		},
	}
}

func newBaselineShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sample-id>",
		Short: "Show the baseline a sample is judged against",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(cfg *config.Config, runner *orchestrator.Runner) error {
				id := strings.TrimSpace(args[0])
				defaults, sample := sampleThresholds(cfg, id)
				baseline, err := quality.Lookup(cmd.Context(), runner.Baselines(), id, defaults)
				if err != nil {
					return err
				}
				if sample != nil {
					baseline = sample.ApplyOverrides(baseline)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, baseline)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(baselineColumns, [][]string{baselineRow(baseline)}))
				if !baseline.Calibrated() {
					fmt.Fprintln(cmd.OutOrStdout(), "Uncalibrated: promote a known-good run to record a baseline")
				}
				return nil
			})
		},
	}
}

func newBaselinePromoteCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	var score float64

	cmd := &cobra.Command{
		Use:   "promote <sample-id>",
		Short: "Record a known-good run as the sample's baseline",
		Long: `Promote stores a measured average similarity as the sample's baseline.
Use --job to promote a recorded job's score, or --similarity to enter one.
Thresholds come from the sample manifest, falling back to configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			useScore := cmd.Flags().Changed("similarity")
			if (jobID == "") == !useScore {
				return services.Wrap(services.ErrConfiguration, "cli", "baseline", "exactly one of --job or --similarity is required", nil)
			}
			return ctx.withRunner(func(cfg *config.Config, runner *orchestrator.Runner) error {
				id := strings.TrimSpace(args[0])
				measured := score
				if !useScore {
					job, err := findJob(cmd.Context(), runner.Jobs(), jobID)
					if err != nil {
						return err
					}
					if measured, err = promotableScore(job, id); err != nil {
						return err
					}
				}
				if measured < 0 || measured > 100 {
					return services.Wrap(services.ErrValidation, "cli", "baseline", fmt.Sprintf("similarity %.2f is outside 0-100", measured), nil)
				}

				thresholds, _ := sampleThresholds(cfg, id)
				baseline, err := quality.Promote(cmd.Context(), runner.Baselines(), id, similarity.Result{AverageSimilarity: measured}, thresholds)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, baseline)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s baseline to %s\n", id, formatScore(measured))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Promote the score of this recorded job")
	cmd.Flags().Float64Var(&score, "similarity", 0, "Promote this average similarity")
	return cmd
}

// sampleThresholds returns the configured thresholds with the sample's
// overrides applied when the sample exists.
func sampleThresholds(cfg *config.Config, id string) (quality.Thresholds, *golden.Sample) {
	defaults := quality.ThresholdsFromConfig(cfg.Quality)
	sample, err := golden.Find(cfg.Paths.SamplesDir, cfg.Paths.WorkflowsDir, id)
	if err != nil {
		return defaults, nil
	}
	return sample.Thresholds(defaults), sample
}

func promotableScore(job *jobstore.GenerationJob, sampleID string) (float64, error) {
	switch {
	case job.SampleID != sampleID:
		return 0, services.Wrap(services.ErrValidation, "cli", "baseline",
			fmt.Sprintf("job %s ran sample %q, not %q", shortID(job.ID), job.SampleID, sampleID), nil)
	case job.Status != jobstore.StatusSucceeded:
		return 0, services.Wrap(services.ErrValidation, "cli", "baseline",
			fmt.Sprintf("job %s is %s", shortID(job.ID), job.Status), nil)
	case job.AverageSimilarity == nil:
		return 0, services.Wrap(services.ErrValidation, "cli", "baseline",
			fmt.Sprintf("job %s has no similarity score", shortID(job.ID)), nil)
	}
	return *job.AverageSimilarity, nil
}

func baselineRow(b quality.Baseline) []string {
	score := "-"
	if b.BaselineAverageSimilarity != nil {
		score = formatScore(*b.BaselineAverageSimilarity)
	}
	updated := "-"
	if b.UpdatedAt != nil {
		updated = b.UpdatedAt.Local().Format("2006-01-02 15:04")
	}
	return []string{b.SampleID, score, formatScore(b.FailThreshold), formatScore(b.WarnThreshold), updated}
}
