package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"videolingo/internal/history"
)

const defaultHistoryLimit = 20

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the attempts of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			return ctx.withHistory(func(store *history.Store) error {
				if len(args) == 1 {
					return showRunAttempts(cmd, store, strings.TrimSpace(args[0]), asJSON)
				}
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						shortID(run.ID),
						formatStarted(run.StartedAt),
						statusLabel(string(run.Status)),
						formatElapsed(run.Duration()),
						run.Input,
						valueOrDash(run.FailedStep),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Started", "Status", "Elapsed", "Input", "Failed Step"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func showRunAttempts(cmd *cobra.Command, store *history.Store, prefix string, asJSON bool) error {
	run, err := store.FindRun(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run matches %q", prefix)
	}
	attempts, err := store.Attempts(cmd.Context(), run.ID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, struct {
			Run      *history.Run      `json:"run"`
			Attempts []history.Attempt `json:"attempts"`
		}{run, attempts})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s (%s)\n", run.ID, run.Input, statusLabel(string(run.Status)))
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
	}
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.Step,
			strconv.Itoa(a.Attempt),
			outcomeLabel(a.Succeeded),
			statusLabel(a.RetryState),
			formatElapsed(a.Duration),
			valueOrDash(a.ErrorKind),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Step", "Attempt", "Outcome", "Retry State", "Elapsed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}

func outcomeLabel(succeeded bool) string {
	if succeeded {
		return statusLabel("succeeded")
	}
	return statusLabel("failed")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
