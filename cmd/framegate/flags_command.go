package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"framegate/internal/flags"
)

type flagView struct {
	Name      string `json:"name"`
	Base      bool   `json:"base"`
	Effective bool   `json:"effective"`
	Forced    bool   `json:"forced"`
}

func newFlagsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flags",
		Short: "Show configured and effective feature flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			forced := flags.Forced(cfg.Flags)
			entries := flags.Entries(cfg.Flags)
			views := make([]flagView, 0, len(entries))
			for _, e := range entries {
				views = append(views, flagView{Name: e.Name, Base: e.Base, Effective: e.Effective, Forced: slices.Contains(forced, e.Name)})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}

			rows := make([][]string, 0, len(views))
			for _, v := range views {
				note := ""
				if v.Forced {
					note = "forced by master_qa_mode"
				}
				rows = append(rows, []string{v.Name, yesNo(v.Base), yesNo(v.Effective), note})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{{title: "Flag"}, {title: "Configured"}, {title: "Effective"}, {title: "Note"}}, rows))
			return nil
		},
	}
}
