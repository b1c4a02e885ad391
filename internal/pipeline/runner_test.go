package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"videolingo/internal/logging"
	"videolingo/internal/services"
)

type recordingCleanup struct {
	mu          sync.Mutex
	finalized   []string
	quarantined []string
	err         error
}

func (c *recordingCleanup) Finalize(_ context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = append(c.finalized, dir)
	return c.err
}

func (c *recordingCleanup) Quarantine(_ context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quarantined = append(c.quarantined, dir)
	return c.err
}

type countingReclaimer struct{ calls int }

func (r *countingReclaimer) Reclaim(context.Context) { r.calls++ }

type recordingObserver struct{ records []AttemptRecord }

func (o *recordingObserver) ObserveAttempt(_ context.Context, record AttemptRecord) {
	o.records = append(o.records, record)
}

func newTestRunner(cleanup Cleanup, opts ...func(*Options)) *Runner {
	o := Options{
		Logger:     logging.NewNop(),
		Cleanup:    cleanup,
		SuccessDir: "/save",
		FailureDir: "/save/ERROR",
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewRunner(o)
}

func constant(output map[string]any) Action {
	return func(context.Context, Values) (map[string]any, error) { return output, nil }
}

func failing(err error, calls *int) Action {
	return func(context.Context, Values) (map[string]any, error) {
		*calls++
		return nil, err
	}
}

func TestRunMergesOutputsLaterKeysWin(t *testing.T) {
	cleanup := &recordingCleanup{}
	state := NewState(map[string]any{"seed": true})
	result := newTestRunner(cleanup).Run(context.Background(), state, []Step{
		{Name: "a", Action: constant(map[string]any{"x": 1, "y": "first"})},
		{Name: "b", Action: constant(nil)},
		{Name: "c", Action: constant(map[string]any{"y": "second", "z": 3})},
	})

	if !result.OK {
		t.Fatalf("expected OK result, got %+v", result)
	}
	got := state.Snapshot()
	want := map[string]any{"seed": true, "x": 1, "y": "second", "z": 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), got)
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("key %q: expected %v, got %v", key, value, got[key])
		}
	}
	if len(cleanup.finalized) != 1 || cleanup.finalized[0] != "/save" {
		t.Fatalf("expected one finalize into /save, got %v", cleanup.finalized)
	}
	if len(cleanup.quarantined) != 0 {
		t.Fatalf("expected no quarantine, got %v", cleanup.quarantined)
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	cleanup := &recordingCleanup{}
	calls := 0
	flaky := func(context.Context, Values) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"done": true}, nil
	}
	state := NewState(nil)
	result := newTestRunner(cleanup).Run(context.Background(), state, []Step{{Name: "flaky", Action: flaky}})

	if !result.OK {
		t.Fatalf("expected success after retries, got %+v", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 invocations, got %d", calls)
	}
	if v, _ := state.View().Get("done"); v != true {
		t.Fatalf("expected merged output, got %v", state.Snapshot())
	}
	if len(cleanup.finalized) != 1 {
		t.Fatalf("expected success cleanup once, got %d", len(cleanup.finalized))
	}
}

func TestRunStopsAfterExhaustedStep(t *testing.T) {
	cleanup := &recordingCleanup{}
	reclaimer := &countingReclaimer{}
	bCalls := 0
	cCalls := 0
	state := NewState(nil)
	runner := newTestRunner(cleanup, func(o *Options) { o.Reclaimer = reclaimer })

	result := runner.Run(context.Background(), state, []Step{
		{Name: "A", Action: constant(map[string]any{"x": 1})},
		{Name: "B", Action: failing(errors.New("boom"), &bCalls)},
		{Name: "C", Action: failing(nil, &cCalls)},
	})

	if result.OK {
		t.Fatal("expected failure result")
	}
	if result.FailedStep != "B" || result.ErrorMessage != "boom" {
		t.Fatalf("unexpected result %+v", result)
	}
	if bCalls != 3 {
		t.Fatalf("expected B invoked 3 times, got %d", bCalls)
	}
	if cCalls != 0 {
		t.Fatalf("expected C never invoked, got %d", cCalls)
	}
	if got := state.Snapshot(); len(got) != 1 || got["x"] != 1 {
		t.Fatalf("expected state {x:1}, got %v", got)
	}
	if len(cleanup.quarantined) != 1 || cleanup.quarantined[0] != "/save/ERROR" {
		t.Fatalf("expected one quarantine into /save/ERROR, got %v", cleanup.quarantined)
	}
	if len(cleanup.finalized) != 0 {
		t.Fatalf("expected no finalize, got %v", cleanup.finalized)
	}
	if reclaimer.calls != 1 {
		t.Fatalf("expected reclaim after the one successful step, got %d", reclaimer.calls)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	cleanup := &recordingCleanup{}
	calls := 0
	result := newTestRunner(cleanup).Run(context.Background(), nil, []Step{{
		Name: "explodes",
		Action: func(context.Context, Values) (map[string]any, error) {
			calls++
			panic("kaboom")
		},
	}})

	if result.OK || result.FailedStep != "explodes" {
		t.Fatalf("expected failure on panicking step, got %+v", result)
	}
	if !strings.Contains(result.ErrorMessage, "kaboom") {
		t.Fatalf("expected panic value in message, got %q", result.ErrorMessage)
	}
	if calls != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, calls)
	}
}

func TestRunCancelledContextIsNotRetried(t *testing.T) {
	cleanup := &recordingCleanup{}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result := newTestRunner(cleanup).Run(ctx, nil, []Step{{
		Name: "cancels",
		Action: func(context.Context, Values) (map[string]any, error) {
			calls++
			cancel()
			return nil, context.Canceled
		},
	}})

	if result.OK {
		t.Fatal("expected failure on cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt after cancellation, got %d", calls)
	}
	if len(cleanup.quarantined) != 1 {
		t.Fatalf("expected failure cleanup to run once, got %d", len(cleanup.quarantined))
	}
}

func TestRunAlreadyCancelledSkipsAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	result := newTestRunner(&recordingCleanup{}).Run(ctx, nil, []Step{{Name: "never", Action: failing(nil, &calls)}})

	if result.OK || result.FailedStep != "never" {
		t.Fatalf("expected failure on cancelled run, got %+v", result)
	}
	if calls != 0 {
		t.Fatalf("expected action not invoked, got %d", calls)
	}
}

func TestRunMissingActionFails(t *testing.T) {
	result := newTestRunner(&recordingCleanup{}).Run(context.Background(), nil, []Step{{Name: "empty"}})
	if result.OK || result.FailedStep != "empty" {
		t.Fatalf("expected failure for missing action, got %+v", result)
	}
}

func TestRunEmptyStepListFinalizes(t *testing.T) {
	cleanup := &recordingCleanup{}
	result := newTestRunner(cleanup).Run(context.Background(), nil, nil)
	if !result.OK {
		t.Fatalf("expected OK for empty pipeline, got %+v", result)
	}
	if len(cleanup.finalized) != 1 {
		t.Fatalf("expected finalize once, got %d", len(cleanup.finalized))
	}
}

func TestRunCleanupErrorKeepsOutcome(t *testing.T) {
	cleanup := &recordingCleanup{err: errors.New("disk full")}
	result := newTestRunner(cleanup).Run(context.Background(), nil, []Step{{Name: "ok", Action: constant(nil)}})
	if !result.OK {
		t.Fatalf("cleanup failure must not flip OK, got %+v", result)
	}
	if result.CleanupError != "disk full" {
		t.Fatalf("expected cleanup error recorded, got %q", result.CleanupError)
	}
}

func TestRunStepsSeeEarlierOutputs(t *testing.T) {
	var seen any
	newTestRunner(nil).Run(context.Background(), nil, []Step{
		{Name: "producer", Action: constant(map[string]any{"video_file": "/out/a.mp4"})},
		{Name: "consumer", Action: func(_ context.Context, view Values) (map[string]any, error) {
			seen, _ = view.String("video_file")
			return nil, nil
		}},
	})
	if seen != "/out/a.mp4" {
		t.Fatalf("expected consumer to read producer output, got %v", seen)
	}
}

func TestRunTagsContextAndObservesAttempts(t *testing.T) {
	observer := &recordingObserver{}
	calls := 0
	var gotStep string
	var gotAttempt int
	runner := newTestRunner(nil, func(o *Options) {
		o.Observer = observer
		o.MaxAttempts = 2
	})
	runner.Run(context.Background(), nil, []Step{{
		Name: "tagged",
		Action: func(ctx context.Context, _ Values) (map[string]any, error) {
			calls++
			gotStep, _ = services.StepFromContext(ctx)
			gotAttempt, _ = services.AttemptFromContext(ctx)
			return nil, errors.New("nope")
		},
	}})

	if gotStep != "tagged" || gotAttempt != 2 {
		t.Fatalf("expected step/attempt context tagged/2, got %q/%d", gotStep, gotAttempt)
	}
	if len(observer.records) != 2 {
		t.Fatalf("expected 2 observed attempts, got %d", len(observer.records))
	}
	if observer.records[0].State != RetryRetrying || observer.records[1].State != RetryExhausted {
		t.Fatalf("unexpected retry states %q, %q", observer.records[0].State, observer.records[1].State)
	}
}

func TestRetryTrackerTransitions(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		outcomes []AttemptOutcome
		final    bool
		want     RetryState
	}{
		{"success first try", 3, []AttemptOutcome{Success(nil)}, false, RetrySucceeded},
		{"one failure retries", 3, []AttemptOutcome{Failure(errors.New("x"))}, false, RetryRetrying},
		{"exhausts at ceiling", 2, []AttemptOutcome{Failure(errors.New("x")), Failure(errors.New("y"))}, false, RetryExhausted},
		{"final failure exhausts early", 3, []AttemptOutcome{Failure(errors.New("x"))}, true, RetryExhausted},
		{"zero ceiling behaves as one", 0, []AttemptOutcome{Failure(errors.New("x"))}, false, RetryExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newRetryTracker(tt.max)
			if tracker.state != RetryPending {
				t.Fatalf("expected pending start, got %q", tracker.state)
			}
			var got RetryState
			for _, outcome := range tt.outcomes {
				got = tracker.record(outcome, tt.final)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRetryTrackerIgnoresOutcomesAfterTerminal(t *testing.T) {
	tracker := newRetryTracker(3)
	tracker.record(Success(nil), false)
	if got := tracker.record(Failure(errors.New("late")), false); got != RetrySucceeded {
		t.Fatalf("expected succeeded to stick, got %q", got)
	}
}
