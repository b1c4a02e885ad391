package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"videolingo/internal/history"
	"videolingo/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var dubbing bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check directories, tools, and the local LLM server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), cfg, dubbing || cfg.Pipeline.Dubbing)
			lines := renderSectionHeader("Configuration", colorize)
			lines = append(lines, renderStatusLine("Config file", statusInfo, valueOrDash(ctx.configPath), colorize))
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Preflight", colorize)...)
			for _, r := range results {
				kind := statusOK
				switch {
				case !r.Passed && r.Optional:
					kind = statusWarn
				case !r.Passed:
					kind = statusError
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			err := ctx.withHistory(func(store *history.Store) error {
				counts, err := store.Counts(cmd.Context())
				if err != nil {
					return err
				}
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Run history", colorize)...)
				for _, status := range []history.Status{history.StatusRunning, history.StatusSucceeded, history.StatusFailed} {
					lines = append(lines, renderStatusLine(statusLabel(string(status)), statusInfo, fmt.Sprint(counts[status]), colorize))
				}
				return nil
			})
			if err != nil {
				lines = append(lines, renderStatusLine("Run history", statusWarn, err.Error(), colorize))
			}
			printLines(out, lines)

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dubbing, "dubbing", false, "Include tools required by the dubbing steps")
	return cmd
}
