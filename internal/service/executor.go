package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

const (
	// DefaultChunkSize bounds how many items are dispatched concurrently.
	DefaultChunkSize = 3
	// DefaultChunkPause is the fixed-rate throttle between chunks.
	DefaultChunkPause = time.Second
	// DefaultItemTimeout caps a single generation call.
	DefaultItemTimeout = 90 * time.Second
)

// ExecutorConfig tunes the local executor. Zero values take defaults.
type ExecutorConfig struct {
	UserID      string
	ChunkSize   int
	ChunkPause  time.Duration
	ItemTimeout time.Duration
	OnUpdate    UpdateFunc
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	// Zero takes the default; pass a negative pause to disable throttling.
	if c.ChunkPause == 0 {
		c.ChunkPause = DefaultChunkPause
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = DefaultItemTimeout
	}
	return c
}

// LocalExecutor drives a job to completion entirely in the calling process.
// Items are partitioned into sequential chunks; within a chunk all items
// are dispatched concurrently, and a fixed pause separates chunks. Items
// that fail are not retried here; retry policy is a caller concern.
//
// Quota accounting is kill-safe: only items that reached completed have
// been counted, so terminating the process mid-chunk leaves the ledger
// consistent, merely incomplete.
type LocalExecutor struct {
	gen    Generator
	ledger QuotaLedger
	cfg    ExecutorConfig

	mu     sync.Mutex
	job    *models.Job
	cancel context.CancelFunc
	done   chan struct{}

	// publishMu serializes observer callbacks across chunk goroutines.
	publishMu sync.Mutex
}

// NewLocalExecutor creates a local executor.
func NewLocalExecutor(gen Generator, ledger QuotaLedger, cfg ExecutorConfig) *LocalExecutor {
	return &LocalExecutor{
		gen:    gen,
		ledger: ledger,
		cfg:    cfg.withDefaults(),
	}
}

// Start begins driving the job's items to terminal states. A second Start
// supersedes any active run.
func (e *LocalExecutor) Start(ctx context.Context, job *models.Job) error {
	e.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.job = cloneJob(job)
	e.job.Status = models.JobProcessing
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.run(runCtx)
	}()
	return nil
}

// Stop halts the active run. Idempotent. In-flight generation calls see
// their context cancelled; items whose call was cut short return to
// pending, items whose call still produced a result keep it. No new
// chunk starts.
func (e *LocalExecutor) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done reports completion of the current run.
func (e *LocalExecutor) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return e.done
}

// Snapshot returns a copy of the current job state with derived stats.
func (e *LocalExecutor) Snapshot() (*models.Job, models.Stats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := cloneJob(e.job)
	if snap == nil {
		return nil, models.Stats{}
	}
	return snap, models.DeriveStats(snap)
}

func (e *LocalExecutor) run(ctx context.Context) {
	e.mu.Lock()
	total := len(e.job.Items)
	chunkSize := e.cfg.ChunkSize
	e.mu.Unlock()

	slog.Info("local batch started", "items", total, "chunk_size", chunkSize)

	for start := 0; start < total; start += chunkSize {
		if ctx.Err() != nil {
			slog.Info("local batch stopped early", "processed", start, "total", total)
			return
		}

		end := start + chunkSize
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for idx := start; idx < end; idx++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e.processItem(ctx, i)
			}(idx)
		}
		wg.Wait()

		// Fixed-rate throttle between chunks, not adaptive backoff.
		if end < total && e.cfg.ChunkPause > 0 {
			select {
			case <-ctx.Done():
				slog.Info("local batch stopped early", "processed", end, "total", total)
				return
			case <-time.After(e.cfg.ChunkPause):
			}
		}
	}

	e.finish()
}

// processItem drives one item to a terminal state. Every transition is
// published immediately so observers stay live mid-chunk.
func (e *LocalExecutor) processItem(ctx context.Context, idx int) {
	e.mu.Lock()
	terminal := e.job.Items[idx].Status.Terminal()
	e.mu.Unlock()
	if terminal {
		// Resumed batches carry finished items; their results stand.
		return
	}

	started := time.Now()

	input := e.mutateItem(idx, func(it *models.Item) {
		it.Status = models.ItemProcessing
		it.StartedAt = &started
	})

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
	content, err := e.gen.Generate(genCtx, input)
	cancel()

	took := time.Since(started)
	ms := took.Milliseconds()
	now := time.Now()

	if err != nil {
		// A stopped run is not a failed item: put it back so a resumed
		// batch retries it. Only the run's own cancellation counts; a
		// per-item timeout is a real failure.
		if ctx.Err() != nil {
			e.mutateItem(idx, func(it *models.Item) {
				it.Status = models.ItemPending
				it.StartedAt = nil
			})
			slog.Info("item generation interrupted, requeued", "item", idx)
			return
		}
		text := err.Error()
		e.mutateItem(idx, func(it *models.Item) {
			it.Status = models.ItemFailed
			it.Error = &text
			it.ProcessingMs = &ms
			it.CompletedAt = &now
		})
		slog.Warn("item generation failed", "item", idx, "error", err)
		return
	}

	score := QualityScore(input, content)
	var counted bool
	e.mutateItem(idx, func(it *models.Item) {
		it.Status = models.ItemCompleted
		it.Content = &content
		it.QualityScore = &score
		it.ProcessingMs = &ms
		it.CompletedAt = &now
		counted = it.QuotaCounted
		it.QuotaCounted = true
	})

	// At-most-once: resumed batches carry already-counted items.
	if !counted && e.ledger != nil {
		if _, err := e.ledger.IncrementUsage(ctx, e.cfg.UserID, 1); err != nil {
			slog.Warn("quota increment failed", "user", e.cfg.UserID, "error", err)
		}
	}
}

// mutateItem applies fn to one item under the lock, publishes the new
// snapshot, and returns the item's input.
func (e *LocalExecutor) mutateItem(idx int, fn func(*models.Item)) models.ItemInput {
	e.mu.Lock()
	fn(&e.job.Items[idx])
	input := e.job.Items[idx].Input
	e.job.UpdatedAt = time.Now()
	snap := cloneJob(e.job)
	e.mu.Unlock()

	e.publish(snap)
	return input
}

func (e *LocalExecutor) finish() {
	e.mu.Lock()
	counts := models.CountItems(e.job.Items)
	switch {
	case counts.Failed == counts.Total && counts.Total > 0:
		e.job.Status = models.JobFailed
	case counts.Settled():
		e.job.Status = models.JobCompleted
	}
	e.job.UpdatedAt = time.Now()
	snap := cloneJob(e.job)
	e.mu.Unlock()

	e.publish(snap)
	slog.Info("local batch finished",
		"completed", counts.Completed, "failed", counts.Failed, "total", counts.Total)
}

func (e *LocalExecutor) publish(snap *models.Job) {
	if e.cfg.OnUpdate == nil {
		return
	}
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	e.cfg.OnUpdate(Update{Job: snap, Stats: models.DeriveStats(snap)})
}
