package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// ErrJobNotFound is returned by job stores when a snapshot is absent.
var ErrJobNotFound = errors.New("job not found")

const (
	// DefaultPollInterval spaces status polls.
	DefaultPollInterval = 3 * time.Second
	// DefaultMaxPolls caps a poll session against a runaway or abandoned
	// job (~50 minutes at the default interval).
	DefaultMaxPolls = 1000
	// DefaultVerifyAttempts bounds the final-count verification loop.
	DefaultVerifyAttempts = 8
	// DefaultVerifyInterval spaces verification re-fetches.
	DefaultVerifyInterval = 2 * time.Second
)

// PollerConfig tunes the remote poller. Zero values take defaults. The
// verification budget is a safety margin, not a proven bound on the
// store's inconsistency window; exhausting it is logged at WARN.
type PollerConfig struct {
	Interval       time.Duration
	MaxPolls       int
	VerifyAttempts int
	VerifyInterval time.Duration
	OnUpdate       UpdateFunc
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = DefaultMaxPolls
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = DefaultVerifyAttempts
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = DefaultVerifyInterval
	}
	return c
}

// RemotePoller drives a job to client-visible completion when execution is
// delegated to a remote job store. It only observes: each successful poll
// replaces the held job view wholesale, items are never mutated here.
//
// On observing a terminal status it does not declare the job done
// immediately. The store's per-item counters can lag its own terminal
// flag, so the terminal signal starts a bounded verification loop that
// re-fetches until the counters account for every item, nothing is left
// in flight, or the attempt budget runs out.
type RemotePoller struct {
	store JobStore
	cfg   PollerConfig

	mu     sync.Mutex
	job    *models.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRemotePoller creates a poller against the given job store.
func NewRemotePoller(store JobStore, cfg PollerConfig) *RemotePoller {
	return &RemotePoller{
		store: store,
		cfg:   cfg.withDefaults(),
	}
}

// Start begins polling the job. Polling is a singleton per poller: a
// second Start cancels any running loop before starting the new one.
func (p *RemotePoller) Start(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("poller requires a job with an ID")
	}

	p.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.job = cloneJob(job)
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.poll(runCtx, job.ID)
	}()
	return nil
}

// Resume queries the store for an already-running job from a previous
// session and re-attaches polling to it. Returns the job being polled, or
// nil when the user has no active job. Without this, navigating away and
// back would lose a job that is still running server-side.
func (p *RemotePoller) Resume(ctx context.Context, userID string) (*models.Job, error) {
	jobs, err := p.store.ListActiveJobs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	job := jobs[0]
	slog.Info("resuming active job from previous session", "job_id", job.ID, "user", userID)
	if err := p.Start(ctx, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Stop halts the active poll loop and waits for it to exit, so no orphan
// timer keeps polling after the caller believes polling has stopped.
// Idempotent and safe from any state.
func (p *RemotePoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done reports completion of the current poll session.
func (p *RemotePoller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

// Snapshot returns a copy of the last observed job state with derived
// stats.
func (p *RemotePoller) Snapshot() (*models.Job, models.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := cloneJob(p.job)
	if snap == nil {
		return nil, models.Stats{}
	}
	return snap, models.DeriveStats(snap)
}

// poll runs the fixed-interval poll loop. Cycles never overlap: the next
// wait is scheduled only after the current fetch has been fully handled,
// and the decision to keep going comes from the last observed status, not
// a raw tick count.
func (p *RemotePoller) poll(ctx context.Context, jobID string) {
	for attempt := 1; attempt <= p.cfg.MaxPolls; attempt++ {
		snap, err := p.store.GetJobStatus(ctx, jobID)
		if errors.Is(err, ErrJobNotFound) || (err == nil && snap == nil) {
			slog.Error("job not found, stopping poll", "job_id", jobID)
			return
		}
		if err != nil {
			// A broken endpoint is unrecoverable for this loop instance;
			// no infinite retry against it.
			slog.Error("job poll failed, stopping", "job_id", jobID, "attempt", attempt, "error", err)
			return
		}

		p.adopt(snap)

		if snap.Status.Terminal() {
			p.reconcile(ctx, jobID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Interval):
		}
	}

	slog.Warn("poll budget exhausted, abandoning job", "job_id", jobID, "max_polls", p.cfg.MaxPolls)
}

// reconcile runs the final-count verification pass: the terminal status is
// a hint to start verifying, not ground truth to stop on. Re-fetches until
// (a) completed+failed >= total, (b) nothing is left in flight, or (c) the
// attempt budget is exhausted, adopting whichever snapshot triggered the
// stop as final.
func (p *RemotePoller) reconcile(ctx context.Context, jobID string) {
	var last models.JobCounts

	for attempt := 1; attempt <= p.cfg.VerifyAttempts; attempt++ {
		snap, err := p.store.GetJobStatus(ctx, jobID)
		if err != nil {
			// Unlike the main loop, verification fetches retry within
			// their budget: the job is already terminal, we are only
			// waiting for its counters to catch up.
			slog.Warn("verification fetch failed", "job_id", jobID, "attempt", attempt, "error", err)
		} else if snap != nil {
			p.adopt(snap)
			last = snap.Counts()

			if last.Accounted() || last.Settled() {
				slog.Info("final counts verified",
					"job_id", jobID, "attempt", attempt,
					"completed", last.Completed, "failed", last.Failed, "total", last.Total)
				return
			}
		}

		if attempt == p.cfg.VerifyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.VerifyInterval):
		}
	}

	slog.Warn("verification budget exhausted, accepting best-available counts",
		"job_id", jobID, "attempts", p.cfg.VerifyAttempts,
		"completed", last.Completed, "failed", last.Failed,
		"pending", last.Pending, "processing", last.Processing, "total", last.Total)
}

// adopt replaces the held view with a fresh snapshot, deriving progress
// client-side when the store did not precompute it.
func (p *RemotePoller) adopt(snap *models.Job) {
	view := cloneJob(snap)
	if view.Progress == nil {
		progress := models.DeriveProgress(view.Counts())
		view.Progress = &progress
	}

	p.mu.Lock()
	p.job = view
	pub := cloneJob(view)
	p.mu.Unlock()

	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(Update{Job: pub, Stats: models.DeriveStats(pub)})
	}
}
