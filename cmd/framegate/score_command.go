package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"framegate/internal/config"
	"framegate/internal/deps"
	"framegate/internal/orchestrator"
	"framegate/internal/preflight"
	"framegate/internal/quality"
	"framegate/internal/services"
)

type scoreView struct {
	Artifact string                 `json:"artifact"`
	Verdict  quality.QualityVerdict `json:"verdict"`
	Decision quality.Decision       `json:"decision"`
}

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var sampleID, start, end string

	cmd := &cobra.Command{
		Use:   "score <artifact>",
		Short: "Score an existing artifact against bookend keyframes",
		Long: `Score compares the first and last frame of an artifact on disk with the
bookend keyframes, without contacting the backend. --sample takes the
keyframes and thresholds from a golden sample and its stored baseline;
otherwise --start and --end name the keyframes and default thresholds apply.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunner(func(cfg *config.Config, runner *orchestrator.Runner) error {
				req, err := scoreRequest(cfg, sampleID, start, end)
				if err != nil {
					return err
				}
				artifact, err := filepath.Abs(args[0])
				if err != nil {
					return fmt.Errorf("resolve artifact: %w", err)
				}
				if err := requireExtractionTools(cfg, artifact); err != nil {
					return err
				}

				verdict, decision := runner.ScoreArtifact(cmd.Context(), req, artifact)
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, scoreView{Artifact: artifact, Verdict: verdict, Decision: decision}); err != nil {
						return err
					}
				} else {
					printVerdict(cmd, artifact, verdict, decision)
				}
				if verdict.Verdict == quality.VerdictFail {
					return exitWith(orchestrator.ExitQualityFail)
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sampleID, "sample", "", "Golden sample supplying keyframes and thresholds")
	flags.StringVar(&start, "start", "", "Start keyframe PNG")
	flags.StringVar(&end, "end", "", "End keyframe PNG")
	return cmd
}

func scoreRequest(cfg *config.Config, sampleID, start, end string) (orchestrator.JobRequest, error) {
	if id := strings.TrimSpace(sampleID); id != "" {
		return sampleRequest(cfg, id)
	}
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return orchestrator.JobRequest{}, services.Wrap(services.ErrConfiguration, "cli", "score",
			"--sample or both --start and --end are required", nil)
	}
	return orchestrator.JobRequest{StartKeyframe: start, EndKeyframe: end}, nil
}

// requireExtractionTools fails fast when a video artifact would need ffmpeg
// or ffprobe and either is missing. PNG artifacts are read directly.
func requireExtractionTools(cfg *config.Config, artifact string) error {
	if strings.EqualFold(filepath.Ext(artifact), ".png") {
		return nil
	}
	missing := deps.Missing(preflight.CheckSystemDeps(cfg), false)
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = m.Name
	}
	return services.Wrap(services.ErrExternalTool, "cli", "score",
		"missing "+strings.Join(names, ", "), nil)
}

func printVerdict(cmd *cobra.Command, artifact string, v quality.QualityVerdict, decision quality.Decision) {
	rows := [][]string{
		{"Artifact", artifact},
		{"Verdict", string(v.Verdict)},
		{"Decision", string(decision)},
		{"Thresholds", fmt.Sprintf("fail < %s, warn < %s", formatScore(v.ThresholdsUsed.Fail), formatScore(v.ThresholdsUsed.Warn))},
	}
	if v.Evaluated {
		rows = append(rows,
			[]string{"Start similarity", formatScore(v.Measured.StartSimilarity)},
			[]string{"End similarity", formatScore(v.Measured.EndSimilarity)},
			[]string{"Average similarity", formatScore(v.Measured.AverageSimilarity)})
	} else {
		rows = append(rows, []string{"Reason", v.Reason})
	}
	if v.DeltaVsBaseline != nil {
		rows = append(rows, []string{"Delta vs baseline", fmt.Sprintf("%+.2f", *v.DeltaVsBaseline)})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{{title: "Field"}, {title: "Value"}}, rows))
}
