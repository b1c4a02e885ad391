package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"videolingo/internal/llmserver"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the local LLM model artifact",
	}
	modelCmd.AddCommand(&cobra.Command{
		Use:   "fetch",
		Short: "Download the configured model when it is not present",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			cfg := llmserver.FromConfig(ctx.config.LocalLLM)
			path, err := llmserver.NewModelResolver(llmserver.NewDownloadClient(cfg.DownloadTimeout), logger).Resolve(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model available at %s\n", path)
			return nil
		},
	})
	return modelCmd
}
