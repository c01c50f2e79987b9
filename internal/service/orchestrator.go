// Package service implements the bulk generation job engine.
package service

import (
	"context"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// Generator is the content generation collaborator: given one work item's
// input it synchronously returns generated content or an error. Possibly
// slow, possibly failing; callers impose timeouts.
type Generator interface {
	Generate(ctx context.Context, input models.ItemInput) (string, error)
}

// QuotaLedger is authoritative for monthly consumption against a plan.
type QuotaLedger interface {
	GetUsage(ctx context.Context, userID string) (models.QuotaState, error)
	IncrementUsage(ctx context.Context, userID string, n int) (models.QuotaState, error)
}

// JobStore is the remote job store collaborator. Ownership of job
// lifecycle persistence lives there, not in the orchestrator.
type JobStore interface {
	SubmitJob(ctx context.Context, userID string, inputs []models.ItemInput) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.Job, error)
	ListActiveJobs(ctx context.Context, userID string) ([]models.Job, error)
}

// Update is one observed state change, delivered to the orchestrator's
// observer as it happens so progress display and session persistence stay
// live during processing.
type Update struct {
	Job   *models.Job
	Stats models.Stats
}

// UpdateFunc observes orchestrator state changes. Called sequentially,
// never concurrently.
type UpdateFunc func(Update)

// BatchOrchestrator drives a batch of items to client-visible completion.
// The two implementations, LocalExecutor and RemotePoller, share the same
// job model and stats derivation so callers are execution-strategy
// agnostic.
type BatchOrchestrator interface {
	// Start begins driving the job and returns immediately. Calling Start
	// while a previous run is active supersedes it: the old run is
	// stopped before the new one begins.
	Start(ctx context.Context, job *models.Job) error

	// Stop halts the active run. Idempotent and safe from any state.
	Stop()

	// Done is closed when the current run finishes, for any reason.
	Done() <-chan struct{}

	// Snapshot returns a copy of the last observed job state with derived
	// stats.
	Snapshot() (*models.Job, models.Stats)
}

// cloneJob deep-copies a job so snapshots handed to observers are immune
// to later mutation.
func cloneJob(j *models.Job) *models.Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Summary != nil {
		s := *j.Summary
		out.Summary = &s
	}
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	out.Items = make([]models.Item, len(j.Items))
	copy(out.Items, j.Items)
	return &out
}
