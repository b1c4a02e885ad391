// Package accel releases accelerator and process memory between pipeline steps.
package accel

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"videolingo/internal/config"
	"videolingo/internal/logging"
)

const defaultCommandTimeout = 10 * time.Second

// Reclaimer performs best-effort memory reclamation. It never returns an error:
// failures are logged and swallowed.
type Reclaimer struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
	// gc is swapped in tests.
	gc func()
}

// New builds a Reclaimer that frees Go heap memory and, when command is set,
// runs it as an external reclaim hook (for example a GPU cache flush helper).
func New(command []string, timeout time.Duration, logger *slog.Logger) *Reclaimer {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Reclaimer{
		command: append([]string(nil), command...),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "accelerator"),
		gc: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
	}
}

// NewFromConfig builds a Reclaimer from the accelerator config section.
func NewFromConfig(cfg config.Accelerator, logger *slog.Logger) *Reclaimer {
	return New(cfg.ReclaimCommand, time.Duration(cfg.ReclaimTimeoutSeconds)*time.Second, logger)
}

// Reclaim frees what it can. A nil receiver is a no-op.
func (r *Reclaimer) Reclaim(ctx context.Context) {
	if r == nil {
		return
	}
	if r.gc != nil {
		r.gc()
	}
	if len(r.command) == 0 || strings.TrimSpace(r.command[0]) == "" {
		return
	}

	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, r.command[0], r.command[1:]...) //nolint:gosec // operator-configured hook
	output, err := cmd.CombinedOutput()
	if err != nil {
		logging.WarnWithContext(
			logging.WithContext(ctx, r.logger),
			"accelerator reclaim command failed",
			"accelerator_reclaim_failed",
			logging.String("command", strings.Join(r.command, " ")),
			logging.String("output", strings.TrimSpace(string(output))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check accelerator.reclaim_command"),
			logging.String(logging.FieldImpact, "device memory may remain allocated until the process exits"),
		)
		return
	}
	r.logger.Debug("accelerator memory reclaimed",
		logging.String(logging.FieldEventType, "accelerator_reclaim"),
	)
}
