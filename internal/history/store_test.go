package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"videolingo/internal/config"
	"videolingo/internal/logging"
	"videolingo/internal/pipeline"
	"videolingo/internal/services"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	store, err := Open(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenCreatesDatabaseInLogDir(t *testing.T) {
	store := openTestStore(t)
	if filepath.Base(store.Path()) != DatabaseFileName {
		t.Fatalf("unexpected path %s", store.Path())
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	first, err := OpenPath(path, nil)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := first.BeginRun(context.Background(), "a.mp4", false, false); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	_ = first.Close()

	second, err := OpenPath(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	runs, err := second.ListRuns(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected persisted run, got %d %v", len(runs), err)
	}
}

func TestSchemaMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenPath(path, nil)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := OpenPath(path, nil); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run, err := store.BeginRun(ctx, "/input/clip.mp4", true, false)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if run.ID == "" || run.Status != StatusRunning {
		t.Fatalf("unexpected run %+v", run)
	}

	runCtx := services.WithRunID(ctx, run.ID)
	store.ObserveAttempt(runCtx, pipeline.AttemptRecord{
		Step: "Transcribing audio", Attempt: 1, Outcome: pipeline.Failure(services.Wrap(services.ErrTimeout, "step", "run", "too slow", nil)),
		State: pipeline.RetryRetrying, StartedAt: time.Now(), Duration: 1500 * time.Millisecond,
	})
	store.ObserveAttempt(runCtx, pipeline.AttemptRecord{
		Step: "Transcribing audio", Attempt: 2, Outcome: pipeline.Success(nil),
		State: pipeline.RetrySucceeded, StartedAt: time.Now(), Duration: time.Second,
	})
	if err := store.FinishRun(ctx, run.ID, pipeline.Result{OK: true}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun: %v %v", got, err)
	}
	if got.Status != StatusSucceeded || !got.Dubbing || got.FinishedAt == nil {
		t.Fatalf("unexpected finished run %+v", got)
	}

	attempts, err := store.Attempts(ctx, run.ID)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Succeeded || attempts[0].ErrorKind != "timeout" || attempts[0].Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected first attempt %+v", attempts[0])
	}
	if !attempts[1].Succeeded || attempts[1].RetryState != string(pipeline.RetrySucceeded) {
		t.Fatalf("unexpected second attempt %+v", attempts[1])
	}
}

func TestObserveAttemptWithoutRunIDIsIgnored(t *testing.T) {
	store := openTestStore(t)
	store.ObserveAttempt(context.Background(), pipeline.AttemptRecord{Step: "x", Attempt: 1})
	var count int
	if err := store.db.QueryRow("SELECT COUNT(1) FROM attempts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no attempts recorded, got %d", count)
	}
}

func TestFailedRunAndCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ok, _ := store.BeginRun(ctx, "a.mp4", false, false)
	bad, _ := store.BeginRun(ctx, "b.mp4", false, true)
	_ = store.FinishRun(ctx, ok.ID, pipeline.Result{OK: true})
	_ = store.FinishRun(ctx, bad.ID, pipeline.Result{FailedStep: "Aligning", ErrorMessage: "boom", CleanupError: "disk"})

	got, _ := store.GetRun(ctx, bad.ID)
	if got.Status != StatusFailed || got.FailedStep != "Aligning" || got.CleanupError != "disk" || !got.Retry {
		t.Fatalf("unexpected failed run %+v", got)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[StatusSucceeded] != 1 || counts[StatusFailed] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestListRunsLimitAndFind(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	var last *Run
	for _, input := range []string{"a", "b", "c"} {
		run, err := store.BeginRun(ctx, input, false, false)
		if err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
		last = run
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Input != "c" {
		t.Fatalf("expected newest first with limit, got %+v", runs)
	}

	found, err := store.FindRun(ctx, last.ID[:8])
	if err != nil || found == nil || found.ID != last.ID {
		t.Fatalf("FindRun by prefix: %v %v", found, err)
	}
	missing, err := store.FindRun(ctx, "zzzz")
	if err != nil || missing != nil {
		t.Fatalf("expected no match, got %v %v", missing, err)
	}
}
