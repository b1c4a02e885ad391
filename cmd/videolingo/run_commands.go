package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"videolingo/internal/history"
	"videolingo/internal/videoflow"
)

type runFlags struct {
	dubbing bool
	retry   bool
}

func (f *runFlags) options(cmd *cobra.Command, defaultDubbing bool) videoflow.Options {
	dubbing := defaultDubbing
	if cmd.Flags().Changed("dubbing") {
		dubbing = f.dubbing
	}
	return videoflow.Options{Dubbing: dubbing, Retry: f.retry}
}

func (c *commandContext) withProcessor(fn func(*videoflow.Processor) error) error {
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	return c.withHistory(func(store *history.Store) error {
		proc := videoflow.NewProcessor(c.config, videoflow.Deps{
			Logger:     logger,
			Supervisor: c.supervisor(logger),
			History:    store,
			Reclaimer:  c.reclaimer(logger),
		})
		return fn(proc)
	})
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <file|url>",
		Short: "Process one video file or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.TrimSpace(args[0])
			if input == "" {
				return errors.New("input is required")
			}
			opts := flags.options(cmd, ctx.config.Pipeline.Dubbing)
			return ctx.withProcessor(func(proc *videoflow.Processor) error {
				report, err := proc.Process(cmd.Context(), input, opts)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				if !report.Result.OK {
					return fmt.Errorf("run failed at step %q", report.Result.FailedStep)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&flags.dubbing, "dubbing", false, "Run the dubbing steps after the text steps")
	cmd.Flags().BoolVar(&flags.retry, "retry", false, "Keep the existing output area instead of clearing it")
	return cmd
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process every video in the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options(cmd, ctx.config.Pipeline.Dubbing)
			return ctx.withProcessor(func(proc *videoflow.Processor) error {
				items, err := proc.Batch(cmd.Context(), opts)
				out := cmd.OutOrStdout()
				if len(items) == 0 && err == nil {
					fmt.Fprintf(out, "No video files in %s\n", ctx.config.Paths.InputDir)
					return nil
				}
				rows := make([][]string, 0, len(items))
				failed := 0
				for _, item := range items {
					result := "ok"
					detail := ""
					switch {
					case item.Err != nil:
						result = "error"
						detail = item.Err.Error()
					case !item.Report.Result.OK:
						result = "failed"
						detail = item.Report.Result.FailedStep
					}
					if !item.OK() {
						failed++
					}
					rows = append(rows, []string{
						item.Input,
						result,
						yesNo(item.Retried),
						formatElapsed(item.Report.Elapsed),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Input", "Result", "Retried", "Elapsed", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "%d processed, %d failed\n", len(items), failed)
				if err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d inputs failed", failed, len(items))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&flags.dubbing, "dubbing", false, "Run the dubbing steps after the text steps")
	return cmd
}

func printReport(out io.Writer, report videoflow.Report) {
	fmt.Fprintf(out, "Run:      %s\n", report.RunID)
	fmt.Fprintf(out, "Input:    %s\n", report.Input)
	fmt.Fprintf(out, "Elapsed:  %s\n", formatElapsed(report.Elapsed))
	if report.Result.OK {
		fmt.Fprintln(out, "Result:   succeeded")
	} else {
		fmt.Fprintf(out, "Result:   failed at %q\n", report.Result.FailedStep)
		fmt.Fprintf(out, "Error:    %s\n", report.Result.ErrorMessage)
	}
	if report.Result.CleanupError != "" {
		fmt.Fprintf(out, "Cleanup:  %s\n", report.Result.CleanupError)
	}
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
