package models

import "time"

// JobStatus represents the state of a batch job.
type JobStatus string

const (
	JobInitializing JobStatus = "initializing"
	JobProcessing   JobStatus = "processing"
	JobCompleted    JobStatus = "completed"
	JobFailed       JobStatus = "failed"
	// JobCancelled is reachable only by explicit user reset, never set by
	// the engine itself.
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobCounts holds per-status item counters for a job snapshot.
type JobCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Consistent reports whether the counters sum to the total. Remote stores
// can violate this transiently while item counter writes lag the job row.
func (c JobCounts) Consistent() bool {
	return c.Pending+c.Processing+c.Completed+c.Failed == c.Total
}

// Settled reports whether nothing is still in flight.
func (c JobCounts) Settled() bool {
	return c.Processing == 0 && c.Pending == 0
}

// Accounted reports whether every item has reached a terminal counter.
func (c JobCounts) Accounted() bool {
	return c.Completed+c.Failed >= c.Total
}

// Remaining returns the number of items not yet terminal.
func (c JobCounts) Remaining() int {
	return c.Pending + c.Processing
}

// Job is a batch of items submitted together and tracked as one lifecycle
// unit. Item order is display order only.
type Job struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Status JobStatus `json:"status"`
	Items  []Item    `json:"items,omitempty"`

	// Summary is the store's authoritative counter snapshot when present.
	// It may reflect items not yet replicated to the Items list, so it
	// takes precedence over re-deriving counts from Items.
	Summary *JobCounts `json:"summary,omitempty"`

	// Progress is a store-precomputed completion fraction in [0, 1],
	// derived client-side when absent.
	Progress *float64 `json:"progress,omitempty"`

	Error *string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counts returns the job's counters, preferring the authoritative summary
// over scanning the item list.
func (j *Job) Counts() JobCounts {
	if j.Summary != nil {
		return *j.Summary
	}
	return CountItems(j.Items)
}
