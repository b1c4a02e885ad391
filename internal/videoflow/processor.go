package videoflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"videolingo/internal/config"
	"videolingo/internal/history"
	"videolingo/internal/llmserver"
	"videolingo/internal/logging"
	"videolingo/internal/pipeline"
	"videolingo/internal/preflight"
	"videolingo/internal/services"
	"videolingo/internal/workspace"
)

// Options selects per-run behaviour.
type Options struct {
	Dubbing bool
	// Retry keeps the output area as-is instead of clearing it first.
	Retry bool
}

// Report describes one processed input.
type Report struct {
	RunID   string
	Input   string
	Result  pipeline.Result
	Elapsed time.Duration
}

// Deps are the collaborators a Processor drives. Nil members disable the
// corresponding feature.
type Deps struct {
	Logger     *slog.Logger
	Supervisor *llmserver.Supervisor
	History    *history.Store
	Reclaimer  pipeline.Reclaimer
	// SkipPreflight disables the readiness checks run before each input.
	SkipPreflight bool
}

// Processor runs the configured workflow for individual inputs.
type Processor struct {
	cfg           *config.Config
	logger        *slog.Logger
	supervisor    *llmserver.Supervisor
	history       *history.Store
	reclaimer     pipeline.Reclaimer
	skipPreflight bool
}

// NewProcessor wires a Processor.
func NewProcessor(cfg *config.Config, deps Deps) *Processor {
	return &Processor{
		cfg:           cfg,
		logger:        logging.NewComponentLogger(deps.Logger, "videoflow"),
		supervisor:    deps.Supervisor,
		history:       deps.History,
		reclaimer:     deps.Reclaimer,
		skipPreflight: deps.SkipPreflight,
	}
}

// Steps returns the ordered step list for input.
func (p *Processor) Steps(input string, dubbing bool) []pipeline.Step {
	configured := p.cfg.AllSteps(dubbing)
	steps := make([]pipeline.Step, 0, len(configured)+1)
	steps = append(steps, p.inputStep(input))
	for _, sc := range configured {
		steps = append(steps, p.commandStep(sc))
	}
	return steps
}

// Process runs the full workflow for one input. Step failures are reported in
// Report.Result; the returned error covers setup problems that prevented the
// run from starting.
func (p *Processor) Process(ctx context.Context, input string, opts Options) (Report, error) {
	started := time.Now()
	report := Report{Input: input}

	if err := p.cfg.Validate(); err != nil {
		return report, services.Wrap(services.ErrConfiguration, "videoflow", "validate config", err.Error(), nil)
	}
	if !p.skipPreflight {
		if failed := preflight.Failed(preflight.RunAll(ctx, p.cfg, opts.Dubbing)); len(failed) > 0 {
			return report, services.Wrap(services.ErrConfiguration, "videoflow", "preflight", preflight.Summary(failed), nil)
		}
	}

	runID := uuid.NewString()
	if p.history != nil {
		run, err := p.history.BeginRun(ctx, input, opts.Dubbing, opts.Retry)
		if err != nil {
			return report, fmt.Errorf("record run start: %w", err)
		}
		runID = run.ID
	}
	report.RunID = runID
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)

	if !opts.Retry {
		if err := workspace.Prepare(ctx, p.cfg.Paths.OutputDir, p.logger); err != nil {
			p.finish(ctx, runID, pipeline.Result{FailedStep: InputStepName, ErrorMessage: err.Error()})
			return report, err
		}
	}

	steps := p.Steps(input, opts.Dubbing)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("input", input),
		logging.Bool("dubbing", opts.Dubbing),
		logging.Bool("retry", opts.Retry),
		logging.Int("steps", len(steps)),
	)

	runnerOpts := pipeline.Options{
		Logger:      p.logger,
		MaxAttempts: p.cfg.Pipeline.MaxAttempts,
		Reclaimer:   p.reclaimer,
		Cleanup:     workspace.NewArchiver(p.cfg.Paths.OutputDir, input, p.logger),
		SuccessDir:  p.cfg.Paths.SaveDir,
		FailureDir:  p.cfg.Paths.ErrorDir,
	}
	if p.history != nil {
		runnerOpts.Observer = p.history
	}
	state := pipeline.NewState(map[string]any{
		"input":      input,
		"output_dir": p.cfg.Paths.OutputDir,
	})
	report.Result = pipeline.NewRunner(runnerOpts).Run(ctx, state, steps)
	report.Elapsed = time.Since(started)
	p.finish(ctx, runID, report.Result)

	if report.Result.OK {
		logger.Info("run succeeded",
			logging.String(logging.FieldEventType, "run_complete"),
			logging.Duration("elapsed", report.Elapsed),
		)
	} else {
		logging.ErrorWithContext(logger, "run failed", "run_failed",
			logging.String("failed_step", report.Result.FailedStep),
			logging.String("error_message", report.Result.ErrorMessage),
			logging.String(logging.FieldErrorHint, "outputs were moved to "+p.cfg.Paths.ErrorDir),
		)
	}
	return report, nil
}

func (p *Processor) finish(ctx context.Context, runID string, result pipeline.Result) {
	if p.history == nil {
		return
	}
	if err := p.history.FinishRun(context.WithoutCancel(ctx), runID, result); err != nil {
		logging.WarnWithContext(p.logger, "failed to record run result", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history will show this run as running"),
		)
	}
}
