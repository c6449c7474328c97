package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"framegate/internal/orchestrator"
	"framegate/internal/preflight"
	"framegate/internal/services"
	"framegate/internal/similarity"
)

type pairView struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	StartSize  string   `json:"startSize,omitempty"`
	EndSize    string   `json:"endSize,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

func newCheckPairCommand(ctx *commandContext) *cobra.Command {
	var minDimension int

	cmd := &cobra.Command{
		Use:   "check-pair <start.png> <end.png>",
		Short: "Check whether a bookend keyframe pair is usable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			start, err := os.ReadFile(args[0])
			if err != nil {
				return services.Wrap(services.ErrNotFound, "cli", "check-pair", "read start keyframe", err)
			}
			end, err := os.ReadFile(args[1])
			if err != nil {
				return services.Wrap(services.ErrNotFound, "cli", "check-pair", "read end keyframe", err)
			}

			opts := preflight.PairOptions{
				MinDimension:    cfg.Preflight.MinDimension,
				VerifyChecksums: cfg.Quality.VerifyPNGChecksums,
			}
			if cmd.Flags().Changed("min-dimension") {
				opts.MinDimension = minDimension
			}
			result := preflight.CheckPair(start, end, opts)

			view := pairView{Allowed: result.Allowed, Reason: result.Reason, Start: args[0], End: args[1]}
			if result.Start.Width > 0 {
				view.StartSize = fmt.Sprintf("%dx%d", result.Start.Width, result.Start.Height)
			}
			if result.End.Width > 0 {
				view.EndSize = fmt.Sprintf("%dx%d", result.End.Width, result.End.Height)
			}
			if len(result.Start.Data) > 0 && len(result.End.Data) > 0 {
				score := similarity.ScoreBuffers(result.Start, result.End)
				view.Similarity = &score
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, view); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Start", view.Start, orDash(view.StartSize)},
					{"End", view.End, orDash(view.EndSize)},
				}
				fmt.Fprint(out, renderTable([]column{{title: "Keyframe"}, {title: "Path"}, {title: "Size"}}, rows))
				if view.Similarity != nil {
					fmt.Fprintf(out, "Pair similarity: %s\n", formatScore(*view.Similarity))
				}
				if result.Allowed {
					fmt.Fprintln(out, "Pair accepted")
				} else {
					fmt.Fprintf(out, "Pair rejected: %s\n", result.Reason)
				}
			}
			if !result.Allowed {
				return exitWith(orchestrator.ExitQualityFail)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minDimension, "min-dimension", 0, "Reject keyframes smaller than this on either side (overrides configuration)")
	return cmd
}
