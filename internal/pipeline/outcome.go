package pipeline

// AttemptOutcome is the result of invoking a step action once: either a
// success carrying the (possibly nil) output map, or a failure carrying the
// error.
type AttemptOutcome struct {
	Output map[string]any
	Err    error
}

// Success builds a successful outcome.
func Success(output map[string]any) AttemptOutcome {
	return AttemptOutcome{Output: output}
}

// Failure builds a failed outcome.
func Failure(err error) AttemptOutcome {
	return AttemptOutcome{Err: err}
}

// OK reports whether the attempt succeeded.
func (o AttemptOutcome) OK() bool {
	return o.Err == nil
}

// RetryState is the position of a step in its retry lifecycle.
type RetryState string

const (
	RetryPending   RetryState = "pending"
	RetryRetrying  RetryState = "retrying"
	RetryExhausted RetryState = "exhausted"
	RetrySucceeded RetryState = "succeeded"
)

// Terminal reports whether no further attempt will be made.
func (s RetryState) Terminal() bool {
	return s == RetryExhausted || s == RetrySucceeded
}

// retryTracker drives pending -> retrying -> exhausted | succeeded for one step.
type retryTracker struct {
	maxAttempts int
	attempts    int
	state       RetryState
}

func newRetryTracker(maxAttempts int) *retryTracker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryTracker{maxAttempts: maxAttempts, state: RetryPending}
}

// record applies an outcome. final forces exhaustion regardless of the
// remaining budget.
func (t *retryTracker) record(outcome AttemptOutcome, final bool) RetryState {
	if t.state.Terminal() {
		return t.state
	}
	t.attempts++
	switch {
	case outcome.OK():
		t.state = RetrySucceeded
	case final || t.attempts >= t.maxAttempts:
		t.state = RetryExhausted
	default:
		t.state = RetryRetrying
	}
	return t.state
}
