// Package deps checks that the external executables videolingo drives are
// installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"videolingo/internal/config"
)

// Requirement defines an external dependency videolingo relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			resolved, err := exec.LookPath(cmd)
			if err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
				break
			}
			status.Available = true
			status.Detail = resolved
		}
		results = append(results, status)
	}
	return results
}

// Requirements lists the executables the configured pipeline needs. Each
// binary appears once even when several steps share it.
func Requirements(cfg *config.Config, dubbing bool) []Requirement {
	if cfg == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var reqs []Requirement
	add := func(req Requirement) {
		if _, ok := seen[req.Command]; ok {
			return
		}
		seen[req.Command] = struct{}{}
		reqs = append(reqs, req)
	}

	if len(cfg.Pipeline.Downloader) > 0 {
		add(Requirement{
			Name:        "Downloader",
			Command:     cfg.Pipeline.Downloader[0],
			Description: "Required for URL inputs",
			Optional:    true,
		})
	}
	for _, step := range cfg.AllSteps(dubbing) {
		if len(step.Command) == 0 {
			continue
		}
		add(Requirement{
			Name:        step.Name,
			Command:     step.Command[0],
			Description: "Pipeline step",
		})
	}
	if cfg.NeedsLLM(dubbing) && cfg.LocalLLM.ManageServer && len(cfg.LocalLLM.Command) > 0 {
		add(Requirement{
			Name:        "Local LLM server",
			Command:     cfg.LocalLLM.Command[0],
			Description: "Spawned for steps marked uses_llm",
		})
	}
	if len(cfg.Accelerator.ReclaimCommand) > 0 {
		add(Requirement{
			Name:        "Reclaim hook",
			Command:     cfg.Accelerator.ReclaimCommand[0],
			Description: "Frees accelerator memory between steps",
			Optional:    true,
		})
	}
	return reqs
}

// Missing returns the required (non-optional) dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
