package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"videolingo/internal/llmserver"
	"videolingo/internal/services"
)

func newServerCommand(ctx *commandContext) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the local LLM server",
	}
	serverCmd.AddCommand(newServerServeCommand(ctx))
	serverCmd.AddCommand(newServerStatusCommand(ctx))
	return serverCmd
}

func newServerServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local LLM server and keep it running until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.LocalLLM.Enabled {
				return services.Wrap(services.ErrConfiguration, "cli", "server serve",
					"local_llm.enabled is false; set it to true to start the server", nil)
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			sup := ctx.supervisor(logger)
			out := cmd.OutOrStdout()

			state, err := sup.Start(cmd.Context())
			if err != nil {
				return err
			}
			if state == llmserver.StartStateAlreadyRunning {
				fmt.Fprintf(out, "Local LLM server already running at %s\n", sup.Config().BaseURL())
				return nil
			}
			fmt.Fprintf(out, "Local LLM server ready at %s (pid %d); press Ctrl+C to stop\n", sup.Config().BaseURL(), sup.PID())

			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), sup.Config().StopTimeout+10*time.Second)
			defer cancel()
			if err := sup.Stop(stopCtx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Local LLM server stopped")
			return nil
		},
	}
}

func newServerStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the local LLM server answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup := ctx.supervisor(nil)
			cfg := sup.Config()
			ready := sup.Ready(cmd.Context())

			model := cfg.ModelAlias
			if path, err := llmserver.Destination(cfg); err == nil && model == "" {
				model = path
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			kind := statusError
			message := "not answering"
			if ready {
				kind = statusOK
				message = "answering"
			}
			lines := renderSectionHeader("Local LLM server", colorize)
			lines = append(lines,
				renderStatusLine("State", kind, message, colorize),
				renderStatusLine("Enabled", statusInfo, yesNo(cfg.Enabled), colorize),
				renderStatusLine("Managed", statusInfo, yesNo(cfg.ManageServer), colorize),
				renderStatusLine("Endpoint", statusInfo, cfg.BaseURL(), colorize),
				renderStatusLine("Model", statusInfo, valueOrDash(model), colorize),
				renderStatusLine("Log", statusInfo, cfg.LogPath, colorize),
			)
			printLines(cmd.OutOrStdout(), lines)
			return nil
		},
	}
}
