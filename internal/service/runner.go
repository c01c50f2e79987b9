package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/bulkgen/internal/llm"
	"github.com/raphaelgruber/bulkgen/internal/metrics"
	"github.com/raphaelgruber/bulkgen/internal/models"
)

// RunnerStore is the persistence surface the job runner needs. Implemented
// by *db.Client; faked in tests.
type RunnerStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetIncompleteJobs(ctx context.Context) ([]models.Job, error)
	PendingItems(ctx context.Context, jobID string) ([]models.Item, error)
	RequeueStaleItems(ctx context.Context, jobID string) error
	MarkItemProcessing(ctx context.Context, jobID, itemID string) error
	CompleteItem(ctx context.Context, jobID, itemID, content string, score float64, took time.Duration) error
	FailItem(ctx context.Context, jobID, itemID, errText string, took time.Duration) error
	SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, errText *string) error
	IncrementUsage(ctx context.Context, userID, period string, n int) (models.QuotaState, error)
}

// Runner drives submitted jobs through the generation service on the
// server side. It is what makes a job progress while no client is
// watching; clients observe it through the poller.
type Runner struct {
	store       RunnerStore
	gen         Generator
	concurrency int
	itemTimeout time.Duration

	// Notify, when set, is called with the job ID after every item
	// transition. The server uses it to feed live progress subscribers.
	Notify func(jobID string)

	// Metrics, when set, receives generation timings and item outcomes.
	Metrics *metrics.Collector

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a job runner.
func NewRunner(store RunnerStore, gen Generator, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{
		store:       store,
		gen:         gen,
		concurrency: concurrency,
		itemTimeout: DefaultItemTimeout,
		active:      make(map[string]context.CancelFunc),
	}
}

// StartJob begins driving a persisted job's items in the background. The
// run outlives the caller's context on purpose: submission contexts end
// with their request, and cancellation goes through Shutdown.
func (r *Runner) StartJob(_ context.Context, job *models.Job) {
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if prev, ok := r.active[job.ID]; ok {
		prev()
	}
	r.active[job.ID] = cancel
	r.mu.Unlock()

	items := make([]models.Item, len(job.Items))
	copy(items, job.Items)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("job runner panicked", "job_id", job.ID, "panic", rec)
				text := fmt.Sprintf("internal panic: %v", rec)
				_ = r.store.SetJobStatus(context.Background(), job.ID, models.JobFailed, &text)
			}
			r.mu.Lock()
			delete(r.active, job.ID)
			r.mu.Unlock()
		}()
		r.process(runCtx, job.ID, job.UserID, items)
	}()
}

// ResumeIncompleteJobs re-drives jobs interrupted by a server restart.
// Items stuck in processing are requeued first so nothing is stranded.
func (r *Runner) ResumeIncompleteJobs(ctx context.Context) error {
	jobs, err := r.store.GetIncompleteJobs(ctx)
	if err != nil {
		return fmt.Errorf("list incomplete jobs: %w", err)
	}
	if len(jobs) == 0 {
		slog.Info("no incomplete jobs to resume")
		return nil
	}

	slog.Info("resuming incomplete jobs", "count", len(jobs))
	for _, job := range jobs {
		if err := r.store.RequeueStaleItems(ctx, job.ID); err != nil {
			slog.Warn("failed to requeue stale items", "job_id", job.ID, "error", err)
			continue
		}
		pending, err := r.store.PendingItems(ctx, job.ID)
		if err != nil {
			slog.Warn("failed to load pending items", "job_id", job.ID, "error", err)
			continue
		}
		if len(pending) == 0 {
			// Every item already terminal; only the job row is stale.
			if err := r.store.SetJobStatus(ctx, job.ID, models.JobCompleted, nil); err != nil {
				slog.Warn("failed to close out resumed job", "job_id", job.ID, "error", err)
			}
			continue
		}

		slog.Info("resuming job", "job_id", job.ID, "pending", len(pending), "total", job.Counts().Total)
		resumed := job
		resumed.Items = pending
		r.StartJob(ctx, &resumed)
	}
	return nil
}

// Shutdown cancels all active jobs and waits for their workers to exit.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, cancel := range r.active {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// process fans the job's items out over a bounded worker pool and settles
// the job row when the pool drains.
func (r *Runner) process(ctx context.Context, jobID, userID string, items []models.Item) {
	slog.Info("job started", "job_id", jobID, "items", len(items), "concurrency", r.concurrency)

	itemChan := make(chan models.Item, len(items))
	fatal := make(chan error, 1)
	var wg sync.WaitGroup

	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemChan {
				if ctx.Err() != nil {
					return
				}
				if err := r.processItem(ctx, jobID, userID, item); err != nil {
					select {
					case fatal <- err:
					default:
					}
					return
				}
			}
		}()
	}

	for _, item := range items {
		itemChan <- item
	}
	close(itemChan)
	wg.Wait()

	select {
	case err := <-fatal:
		text := err.Error()
		slog.Error("job aborted on fatal provider error", "job_id", jobID, "error", err)
		_ = r.store.SetJobStatus(ctx, jobID, models.JobFailed, &text)
		r.notify(jobID)
		return
	default:
	}

	if ctx.Err() != nil {
		// Interrupted; the job stays non-terminal and a later resume
		// picks up the remaining items.
		slog.Info("job interrupted", "job_id", jobID)
		return
	}

	r.settle(ctx, jobID)
}

// processItem drives one item to a terminal state in the store. Returns an
// error only for fatal provider failures that should abort the whole job.
func (r *Runner) processItem(ctx context.Context, jobID, userID string, item models.Item) error {
	if err := r.store.MarkItemProcessing(ctx, jobID, item.ID); err != nil {
		slog.Warn("failed to mark item processing", "job_id", jobID, "item", item.ID, "error", err)
		return nil
	}
	r.notify(jobID)

	started := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, r.itemTimeout)
	content, err := r.gen.Generate(genCtx, item.Input)
	cancel()
	took := time.Since(started)

	if err != nil {
		if r.Metrics != nil {
			r.Metrics.RecordError(metrics.OpGeneration)
			r.Metrics.RecordItemOutcome(false)
		}
		if dbErr := r.store.FailItem(ctx, jobID, item.ID, err.Error(), took); dbErr != nil {
			slog.Warn("failed to persist item failure", "job_id", jobID, "item", item.ID, "error", dbErr)
		}
		r.notify(jobID)
		if errors.Is(err, llm.ErrFatalAPI) {
			return err
		}
		slog.Warn("item generation failed", "job_id", jobID, "item", item.ID, "error", err)
		return nil
	}

	if r.Metrics != nil {
		r.Metrics.RecordTiming(metrics.OpGeneration, took)
		r.Metrics.RecordItemOutcome(true)
	}

	score := QualityScore(item.Input, content)
	if err := r.store.CompleteItem(ctx, jobID, item.ID, content, score, took); err != nil {
		slog.Warn("failed to persist item completion", "job_id", jobID, "item", item.ID, "error", err)
		return nil
	}
	r.notify(jobID)

	// CompleteItem set the item's counted flag in the same transaction, so
	// this increment happens at most once per item across resumes.
	if !item.QuotaCounted {
		if _, err := r.store.IncrementUsage(ctx, userID, models.BillingPeriod(), 1); err != nil {
			slog.Warn("quota increment failed", "job_id", jobID, "user", userID, "error", err)
		}
	}
	return nil
}

// settle moves the job row to its terminal status once all items are.
func (r *Runner) settle(ctx context.Context, jobID string) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Warn("failed to load job for settlement", "job_id", jobID, "error", err)
		return
	}

	counts := job.Counts()
	status := models.JobCompleted
	if counts.Failed == counts.Total && counts.Total > 0 {
		status = models.JobFailed
	}
	if err := r.store.SetJobStatus(ctx, jobID, status, nil); err != nil {
		slog.Warn("failed to settle job", "job_id", jobID, "error", err)
		return
	}
	r.notify(jobID)

	slog.Info("job finished", "job_id", jobID,
		"status", status, "completed", counts.Completed, "failed", counts.Failed, "total", counts.Total)
}

func (r *Runner) notify(jobID string) {
	if r.Notify != nil {
		r.Notify(jobID)
	}
}
