package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"videolingo/internal/logging"
	"videolingo/internal/pipeline"
	"videolingo/internal/services"
)

const runColumns = "id, input, dubbing, retry, status, failed_step, error_message, cleanup_error, started_at, finished_at"

// BeginRun records a new running entry and returns it with a fresh ID.
func (s *Store) BeginRun(ctx context.Context, input string, dubbing, retry bool) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Input:     input,
		Dubbing:   dubbing,
		Retry:     retry,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	err := s.exec(ctx,
		`INSERT INTO runs (id, input, dubbing, retry, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, boolInt(dubbing), boolInt(retry), run.Status, formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final pipeline result for runID.
func (s *Store) FinishRun(ctx context.Context, runID string, result pipeline.Result) error {
	status := StatusSucceeded
	if !result.OK {
		status = StatusFailed
	}
	err := s.exec(ctx,
		`UPDATE runs SET status = ?, failed_step = ?, error_message = ?, cleanup_error = ?, finished_at = ? WHERE id = ?`,
		status,
		nullableString(result.FailedStep),
		nullableString(result.ErrorMessage),
		nullableString(result.CleanupError),
		formatTime(time.Now()),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordAttempt appends one attempt to runID.
func (s *Store) RecordAttempt(ctx context.Context, runID string, record pipeline.AttemptRecord) error {
	outcome := "success"
	var kind, message string
	if !record.Outcome.OK() {
		outcome = "failure"
		kind = services.Kind(record.Outcome.Err)
		message = record.Outcome.Err.Error()
	}
	err := s.exec(ctx,
		`INSERT INTO attempts (run_id, step, attempt, outcome, retry_state, error_kind, error_message, started_at, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		record.Step,
		record.Attempt,
		outcome,
		string(record.State),
		nullableString(kind),
		nullableString(message),
		formatTime(record.StartedAt),
		record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ObserveAttempt implements pipeline.Observer using the run ID carried by ctx.
// Persistence failures are logged, never surfaced to the runner.
func (s *Store) ObserveAttempt(ctx context.Context, record pipeline.AttemptRecord) {
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		return
	}
	if err := s.RecordAttempt(context.WithoutCancel(ctx), runID, record); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "failed to record step attempt", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check "+s.path),
			logging.String(logging.FieldImpact, "run history will be incomplete"),
		)
	}
}

// GetRun returns the run with id, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// FindRun resolves a full ID or a unique ID prefix.
func (s *Store) FindRun(ctx context.Context, prefix string) (*Run, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("run id is empty")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ORDER BY started_at DESC LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, nil
	case 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanRuns(rows)
}

// Attempts returns every attempt for runID in recording order.
func (s *Store) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, attempt, outcome, retry_state, error_kind, error_message, started_at, duration_ms
         FROM attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a          Attempt
			outcome    string
			kind       sql.NullString
			message    sql.NullString
			startedRaw sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.Step, &a.Attempt, &outcome, &a.RetryState, &kind, &message, &startedRaw, &durationMS); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Succeeded = outcome == "success"
		a.ErrorKind = kind.String
		a.ErrorMessage = message.String
		a.StartedAt = parseTime(startedRaw)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Counts returns the number of runs per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		dubbing      int
		retry        int
		status       string
		failedStep   sql.NullString
		errorMessage sql.NullString
		cleanupError sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Input,
		&dubbing,
		&retry,
		&status,
		&failedStep,
		&errorMessage,
		&cleanupError,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.Dubbing = dubbing != 0
	run.Retry = retry != 0
	run.Status = Status(status)
	run.FailedStep = failedStep.String
	run.ErrorMessage = errorMessage.String
	run.CleanupError = cleanupError.String
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		finished := parseTime(finishedRaw)
		run.FinishedAt = &finished
	}
	return &run, nil
}
