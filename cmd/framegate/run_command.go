package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/jobgraph"
	"framegate/internal/orchestrator"
	"framegate/internal/services"
	"framegate/internal/submit"
)

type adHocOptions struct {
	workflow       string
	start          string
	end            string
	prompt         string
	negativePrompt string
	sceneID        string
	analyze        bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var adHoc adHocOptions

	cmd := &cobra.Command{
		Use:   "run [sample-id]",
		Short: "Run one golden sample or an ad-hoc bookend job",
		Long: `Run submits one job and waits for its verdict.

With a sample id the golden sample's manifest supplies the workflow, keyframes,
and prompts, and the artifact is always scored. Without one, --workflow,
--start, and --end describe an ad-hoc job; it is scored only when automatic
analysis is enabled or --analyze is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(cfg *config.Config, runner *orchestrator.Runner) error {
				var req orchestrator.JobRequest
				var err error
				if len(args) == 1 {
					req, err = sampleRequest(cfg, args[0])
				} else {
					req, err = adHoc.request()
				}
				if err != nil {
					return err
				}

				out := runner.RunJob(cmd.Context(), req)
				result := orchestrator.BatchResult{Outcomes: []orchestrator.JobOutcome{out}, Duration: out.Duration}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, newOutcomeView(out)); err != nil {
						return err
					}
				} else {
					printOutcomes(cmd.OutOrStdout(), result.Outcomes)
					if out.TelemetryPath != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "Telemetry: %s\n", out.TelemetryPath)
					}
				}
				return exitWith(result.ExitCode())
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&adHoc.workflow, "workflow", "", "Job graph template (JSONC) for an ad-hoc job")
	flags.StringVar(&adHoc.start, "start", "", "Start keyframe PNG")
	flags.StringVar(&adHoc.end, "end", "", "End keyframe PNG")
	flags.StringVar(&adHoc.prompt, "prompt", "", "Positive prompt")
	flags.StringVar(&adHoc.negativePrompt, "negative-prompt", "", "Negative prompt")
	flags.StringVar(&adHoc.sceneID, "scene", "", "Scene id recorded with the job")
	flags.BoolVar(&adHoc.analyze, "analyze", false, "Score the artifact even when automatic analysis is disabled")
	return cmd
}

func sampleRequest(cfg *config.Config, id string) (orchestrator.JobRequest, error) {
	samples, err := selectSamples(cfg, []string{id})
	if err != nil {
		return orchestrator.JobRequest{}, err
	}
	return orchestrator.FromSample(samples[0])
}

func (o adHocOptions) request() (orchestrator.JobRequest, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"--workflow", o.workflow},
		{"--start", o.start},
		{"--end", o.end},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return orchestrator.JobRequest{}, services.Wrap(services.ErrConfiguration, "cli", "run",
			"a sample id or "+strings.Join(missing, ", ")+" is required", nil)
	}

	tmpl, err := jobgraph.ReadFile(o.workflow)
	if err != nil {
		return orchestrator.JobRequest{}, services.Wrap(services.ErrConfiguration, "cli", "run", "load workflow", err)
	}
	start, err := filepath.Abs(o.start)
	if err != nil {
		return orchestrator.JobRequest{}, fmt.Errorf("resolve start keyframe: %w", err)
	}
	end, err := filepath.Abs(o.end)
	if err != nil {
		return orchestrator.JobRequest{}, fmt.Errorf("resolve end keyframe: %w", err)
	}
	sceneID := strings.TrimSpace(o.sceneID)
	return orchestrator.JobRequest{
		SceneID:  sceneID,
		Name:     tmpl.Name,
		Template: tmpl,
		Inputs: map[string]submit.Input{
			jobgraph.SlotPositivePrompt: submit.Text(o.prompt),
			jobgraph.SlotNegativePrompt: submit.Text(o.negativePrompt),
			jobgraph.SlotStartImage:     submit.File(start),
			jobgraph.SlotEndImage:       submit.File(end),
			jobgraph.SlotSceneID:        submit.Text(sceneID),
		},
		StartKeyframe: start,
		EndKeyframe:   end,
		Analyze:       o.analyze,
	}, nil
}
