// Package models defines data structures for the bulk generation engine.
package models

import "time"

// ItemStatus represents the lifecycle state of a single work item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// ItemInput is the payload a work item is generated from.
type ItemInput struct {
	Name       string `json:"name"`
	Attributes string `json:"attributes,omitempty"`
	Target     string `json:"target,omitempty"`
}

// Item is one unit of work within a bulk batch: one input record and one
// generated output or error. An item is owned by exactly one executor at a
// time; observers (the poller) replace their view wholesale, never mutate.
type Item struct {
	ID     string     `json:"id"`
	Input  ItemInput  `json:"input"`
	Status ItemStatus `json:"status"`

	Content *string `json:"content,omitempty"`
	Error   *string `json:"error,omitempty"`

	QualityScore *float64 `json:"quality_score,omitempty"`
	ProcessingMs *int64   `json:"processing_ms,omitempty"`

	// QuotaCounted guards the at-most-once quota increment for this item.
	// Set by the executor that completes the item, read-only elsewhere.
	QuotaCounted bool `json:"quota_counted,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the recorded processing time, or false if the item never
// completed with timing information.
func (i Item) Duration() (time.Duration, bool) {
	if i.ProcessingMs == nil {
		return 0, false
	}
	return time.Duration(*i.ProcessingMs) * time.Millisecond, true
}
