package history

import "time"

// Status is the lifecycle state of a recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one pipeline execution for a single input.
type Run struct {
	ID           string
	Input        string
	Dubbing      bool
	Retry        bool
	Status       Status
	FailedStep   string
	ErrorMessage string
	CleanupError string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Duration returns the elapsed run time, measured to now while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Attempt is one invocation of a step action.
type Attempt struct {
	ID           int64
	RunID        string
	Step         string
	Attempt      int
	Succeeded    bool
	RetryState   string
	ErrorKind    string
	ErrorMessage string
	StartedAt    time.Time
	Duration     time.Duration
}
