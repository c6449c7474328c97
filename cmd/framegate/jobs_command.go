package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/jobstore"
	"framegate/internal/orchestrator"
	"framegate/internal/services"
)

var jobColumns = []column{
	{title: "ID"},
	{title: "Sample"},
	{title: "Status"},
	{title: "Verdict"},
	{title: "Decision"},
	{title: "Similarity", numeric: true},
	{title: "Attempts", numeric: true},
	{title: "Created"},
	{title: "Detail"},
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded generation jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withRunner(func(_ *config.Config, runner *orchestrator.Runner) error {
				jobs, err := runner.Jobs().List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if limit > 0 && len(jobs) > limit {
					jobs = jobs[:limit]
				}
				if ctx.jsonOutput() {
					if jobs == nil {
						jobs = []*jobstore.GenerationJob{}
					}
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, jobRow(job))
				}
				fmt.Fprint(out, renderTable(jobColumns, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Only show jobs in these statuses")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many jobs (0 for all)")
	cmd.AddCommand(newJobsShowCommand(ctx))
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job; a unique id prefix is enough",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(_ *config.Config, runner *orchestrator.Runner) error {
				job, err := findJob(cmd.Context(), runner.Jobs(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				rows := [][]string{
					{"ID", job.ID},
					{"Scene", orDash(job.SceneID)},
					{"Sample", orDash(job.SampleID)},
					{"Template", orDash(job.Template)},
					{"Backend", orDash(job.BackendURL)},
					{"Backend job", orDash(job.BackendJobID)},
					{"Status", string(job.Status)},
					{"Attempts", fmt.Sprintf("%d of %d", job.AttemptsUsed, job.RetryBudget+1)},
					{"Exit reason", orDash(job.ExitReason)},
					{"Verdict", orDash(job.Verdict)},
					{"Decision", orDash(job.Decision)},
					{"Error", orDash(strings.TrimSpace(job.ErrorKind + " " + job.ErrorMessage))},
					{"Telemetry", orDash(job.TelemetryPath)},
					{"Created", job.CreatedAt.Local().Format("2006-01-02 15:04:05")},
				}
				if job.AverageSimilarity != nil {
					rows = append(rows, []string{"Similarity", formatScore(*job.AverageSimilarity)})
				}
				if job.FinishedAt != nil {
					rows = append(rows, []string{"Finished", job.FinishedAt.Local().Format("2006-01-02 15:04:05")})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{{title: "Field"}, {title: "Value"}}, rows))
				return nil
			})
		},
	}
}

func parseStatuses(values []string) ([]jobstore.Status, error) {
	statuses := make([]jobstore.Status, 0, len(values))
	for _, v := range values {
		status, ok := jobstore.ParseStatus(strings.ToLower(strings.TrimSpace(v)))
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "cli", "jobs", fmt.Sprintf("unknown status %q", v), nil)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// findJob resolves a full job id or a unique prefix of one.
func findJob(ctx context.Context, store *jobstore.Store, id string) (*jobstore.GenerationJob, error) {
	id = strings.TrimSpace(id)
	job, err := store.Get(ctx, id)
	if err == nil || !errors.Is(err, services.ErrNotFound) {
		return job, err
	}
	jobs, listErr := store.List(ctx)
	if listErr != nil {
		return nil, listErr
	}
	var match *jobstore.GenerationJob
	for _, candidate := range jobs {
		if !strings.HasPrefix(candidate.ID, id) {
			continue
		}
		if match != nil {
			return nil, services.Wrap(services.ErrValidation, "cli", "jobs", fmt.Sprintf("job prefix %q is ambiguous", id), nil)
		}
		match = candidate
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}
