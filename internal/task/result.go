package task

import "time"

// Result records the outcome of one task for one run. Results are
// immutable once recorded in a Store.
type Result struct {
	// TaskID identifies the task this result belongs to.
	TaskID string `json:"task_id"`

	// Output is the value produced by the task body on success.
	Output any `json:"output,omitempty"`

	// Err is the failure cause. Nil on success.
	Err error `json:"-"`

	// Strategy is the strategy the task actually executed under.
	Strategy Strategy `json:"strategy"`

	// Attempts is the number of execution attempts, including the first.
	Attempts int `json:"attempts"`

	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the final attempt ended.
	FinishedAt time.Time `json:"finished_at"`

	// Success reports whether the task produced an output.
	Success bool `json:"success"`
}

// Duration returns the wall time from first attempt to final outcome.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
