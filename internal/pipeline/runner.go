package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"videolingo/internal/logging"
	"videolingo/internal/services"
)

// DefaultMaxAttempts is the per-step attempt ceiling used when none is configured.
const DefaultMaxAttempts = 3

// Action performs one step. It reads earlier outputs through view and returns
// the keys it produced; a nil map contributes nothing.
type Action func(ctx context.Context, view Values) (map[string]any, error)

// Step is a named unit of work. Steps run in the order supplied to Run.
type Step struct {
	Name   string
	Action Action
}

// Result summarizes a run. FailedStep and ErrorMessage are set only when OK is
// false. CleanupError reports a cleanup failure without changing OK.
type Result struct {
	OK           bool
	FailedStep   string
	ErrorMessage string
	CleanupError string
}

// Cleanup moves the output area once a run has finished.
type Cleanup interface {
	Finalize(ctx context.Context, dir string) error
	Quarantine(ctx context.Context, dir string) error
}

// Reclaimer frees accelerator memory between steps. Implementations must not
// block for long and must swallow their own failures.
type Reclaimer interface {
	Reclaim(ctx context.Context)
}

// AttemptRecord describes one invocation of a step action.
type AttemptRecord struct {
	Step        string
	Attempt     int
	MaxAttempts int
	Outcome     AttemptOutcome
	State       RetryState
	StartedAt   time.Time
	Duration    time.Duration
}

// Observer receives every attempt as it completes.
type Observer interface {
	ObserveAttempt(ctx context.Context, record AttemptRecord)
}

// Options configures a Runner.
type Options struct {
	Logger      *slog.Logger
	MaxAttempts int
	Reclaimer   Reclaimer
	Cleanup     Cleanup
	// SuccessDir and FailureDir are handed to Finalize and Quarantine.
	SuccessDir string
	FailureDir string
	Observer   Observer
}

// Runner executes step lists. A Runner holds no per-run state and may be
// reused for consecutive runs.
type Runner struct {
	logger      *slog.Logger
	maxAttempts int
	reclaimer   Reclaimer
	cleanup     Cleanup
	successDir  string
	failureDir  string
	observer    Observer
}

// NewRunner constructs a Runner from opts.
func NewRunner(opts Options) *Runner {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		logger:      logging.NewComponentLogger(opts.Logger, "pipeline"),
		maxAttempts: maxAttempts,
		reclaimer:   opts.Reclaimer,
		cleanup:     opts.Cleanup,
		successDir:  opts.SuccessDir,
		failureDir:  opts.FailureDir,
		observer:    opts.Observer,
	}
}

// MaxAttempts reports the per-step attempt ceiling.
func (r *Runner) MaxAttempts() int {
	return r.maxAttempts
}

// Run executes steps in order against state and runs exactly one cleanup
// action. A nil state is replaced by an empty one.
func (r *Runner) Run(ctx context.Context, state *State, steps []Step) Result {
	if state == nil {
		state = NewState(nil)
	}
	logger := logging.WithContext(ctx, r.logger)
	started := time.Now()

	for index, step := range steps {
		stepCtx := services.WithStep(ctx, step.Name)
		stepLogger := logging.WithContext(stepCtx, r.logger)
		stepLogger.Info(
			"step started",
			logging.String(logging.FieldEventType, "step_start"),
			logging.Int("position", index+1),
			logging.Int("total_steps", len(steps)),
		)

		outcome, attempts := r.runStep(stepCtx, stepLogger, state, step)
		if !outcome.OK() {
			message := errorMessage(outcome.Err)
			logging.ErrorWithContext(
				stepLogger,
				"step failed",
				"step_failure",
				logging.Int("attempts", attempts),
				logging.String("error_message", message),
				logging.ErrorKind(outcome.Err),
				logging.String(logging.FieldErrorHint, "inspect the quarantined output area and the step log"),
				logging.Error(outcome.Err),
			)
			result := Result{FailedStep: step.Name, ErrorMessage: message}
			if err := r.quarantine(ctx); err != nil {
				result.CleanupError = err.Error()
			}
			return result
		}

		state.Merge(outcome.Output)
		r.reclaim(stepCtx)
		stepLogger.Info(
			"step completed",
			logging.String(logging.FieldEventType, "step_complete"),
			logging.Int("attempts", attempts),
			logging.Int("output_keys", len(outcome.Output)),
		)
	}

	result := Result{OK: true}
	if err := r.finalize(ctx); err != nil {
		result.CleanupError = err.Error()
	}
	logger.Info(
		"pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.Int("steps", len(steps)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result
}

// runStep drives the retry tracker for one step and returns the terminal
// outcome plus the number of attempts made.
func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, state *State, step Step) (AttemptOutcome, int) {
	tracker := newRetryTracker(r.maxAttempts)
	for attempt := 1; ; attempt++ {
		attemptCtx := services.WithAttempt(ctx, attempt)
		startedAt := time.Now()

		var outcome AttemptOutcome
		cancelled := ctx.Err() != nil
		if cancelled {
			outcome = Failure(services.Wrap(services.ErrStepFailure, "pipeline", step.Name, "run cancelled", context.Cause(ctx)))
		} else {
			outcome = invoke(attemptCtx, step, state.View())
			cancelled = ctx.Err() != nil
		}

		next := tracker.record(outcome, cancelled)
		record := AttemptRecord{
			Step:        step.Name,
			Attempt:     attempt,
			MaxAttempts: r.maxAttempts,
			Outcome:     outcome,
			State:       next,
			StartedAt:   startedAt,
			Duration:    time.Since(startedAt),
		}
		if r.observer != nil {
			r.observer.ObserveAttempt(attemptCtx, record)
		}

		if next == RetryRetrying {
			logging.WarnWithContext(
				logging.WithContext(attemptCtx, logger),
				"step attempt failed; retrying",
				"step_retry",
				logging.Int("max_attempts", r.maxAttempts),
				logging.Duration("duration", record.Duration),
				logging.Error(outcome.Err),
				logging.String(logging.FieldImpact, "step will be attempted again immediately"),
			)
			continue
		}
		return outcome, attempt
	}
}

// invoke runs the action once, converting panics and a missing action into
// failures.
func invoke(ctx context.Context, step Step, view Values) (outcome AttemptOutcome) {
	if step.Action == nil {
		return Failure(services.Wrap(services.ErrStepFailure, "pipeline", step.Name, "step has no action", nil))
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = Failure(services.Wrap(services.ErrStepFailure, "pipeline", step.Name, fmt.Sprintf("panic: %v", recovered), nil))
		}
	}()
	output, err := step.Action(ctx, view)
	if err != nil {
		return Failure(err)
	}
	return Success(output)
}

func (r *Runner) reclaim(ctx context.Context) {
	if r.reclaimer == nil {
		return
	}
	r.reclaimer.Reclaim(ctx)
}

func (r *Runner) finalize(ctx context.Context) error {
	if r.cleanup == nil {
		return nil
	}
	if err := r.cleanup.Finalize(context.WithoutCancel(ctx), r.successDir); err != nil {
		logging.WarnWithContext(r.logger, "success cleanup failed", "cleanup_failure",
			logging.String("target_dir", r.successDir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "outputs remain in the working area"),
		)
		return err
	}
	return nil
}

func (r *Runner) quarantine(ctx context.Context) error {
	if r.cleanup == nil {
		return nil
	}
	if err := r.cleanup.Quarantine(context.WithoutCancel(ctx), r.failureDir); err != nil {
		logging.WarnWithContext(r.logger, "failure cleanup failed", "cleanup_failure",
			logging.String("target_dir", r.failureDir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "partial outputs remain in the working area"),
		)
		return err
	}
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return "step failed"
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
