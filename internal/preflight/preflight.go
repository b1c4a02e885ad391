package preflight

import (
	"context"
	"fmt"
	"strings"

	"videolingo/internal/config"
	"videolingo/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional failures are reported but do not block a run.
	Optional bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, dubbing bool) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Save directory", cfg.Paths.SaveDir),
		CheckDirectoryAccess("Error directory", cfg.Paths.ErrorDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if strings.TrimSpace(cfg.Paths.InputDir) != "" {
		input := CheckDirectoryAccess("Input directory", cfg.Paths.InputDir)
		input.Optional = true
		results = append(results, input)
	}

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg, dubbing)) {
		results = append(results, fromDependency(status))
	}

	// Steps surface an unavailable server themselves, through the runner's
	// retry and quarantine path, so this check only reports.
	if cfg.NeedsLLM(dubbing) {
		llm := CheckLocalLLM(ctx, cfg.LocalLLM)
		llm.Optional = true
		results = append(results, llm)
	}
	return results
}

// Failed returns the blocking failures in results.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// Summary joins failed checks into one line for error messages.
func Summary(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return strings.Join(parts, "; ")
}

func fromDependency(status deps.Status) Result {
	name := status.Name
	if status.Command != "" && status.Command != status.Name {
		name = fmt.Sprintf("%s (%s)", status.Name, status.Command)
	}
	return Result{
		Name:     name,
		Passed:   status.Available,
		Detail:   status.Detail,
		Optional: status.Optional,
	}
}
