package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// TTL is how long an interrupted session stays eligible for recovery.
// After a long gap the remote side has moved on (quota windows, job
// retention), so a stale snapshot is silently discarded instead of
// offered.
const TTL = 2 * time.Hour

// Manager owns one user's session slot: it records in-flight state as the
// batch progresses and decides on startup whether a previous snapshot is
// worth offering for recovery.
type Manager struct {
	store  Store
	userID string

	mu        sync.Mutex
	lastWrite time.Time
}

// NewManager creates a manager writing to the slot keyed by userID.
func NewManager(store Store, userID string) *Manager {
	return &Manager{store: store, userID: userID}
}

// Record persists a snapshot of the current state, superseding any
// previous one.
func (m *Manager) Record(ctx context.Context, step string, job *models.Job, quota models.QuotaState, planID string) error {
	sess := &models.Session{
		UserID:    m.userID,
		Step:      step,
		Job:       job,
		Quota:     quota,
		PlanID:    planID,
		UpdatedAt: time.Now(),
	}
	if err := m.store.Save(ctx, m.userID, sess); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastWrite = sess.UpdatedAt
	m.mu.Unlock()
	return nil
}

// RecordThrottled persists like Record but skips the write when one
// happened within minInterval, unless the job is terminal. Per-item
// updates arrive faster than durable snapshots are worth.
func (m *Manager) RecordThrottled(ctx context.Context, minInterval time.Duration, step string, job *models.Job, quota models.QuotaState, planID string) error {
	terminal := job != nil && job.Status.Terminal()

	m.mu.Lock()
	due := time.Since(m.lastWrite) >= minInterval
	m.mu.Unlock()

	if !due && !terminal {
		return nil
	}
	return m.Record(ctx, step, job, quota, planID)
}

// RecoveryCandidate returns the stored session if it is worth offering
// for recovery, or nil. A snapshot belonging to a different user, older
// than TTL, or not capturing an in-flight batch is discarded silently;
// none of those are the caller's problem to resolve.
func (m *Manager) RecoveryCandidate(ctx context.Context) (*models.Session, error) {
	sess, err := m.store.Load(ctx, m.userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case sess.UserID != m.userID:
		slog.Warn("discarding session recorded for a different user", "stored", sess.UserID, "current", m.userID)
	case time.Since(sess.UpdatedAt) > TTL:
		slog.Info("discarding expired session", "age", time.Since(sess.UpdatedAt).Round(time.Minute))
	case !sess.InFlight():
		// Nothing was interrupted; no question to ask.
	default:
		return sess, nil
	}

	if err := m.store.Delete(ctx, m.userID); err != nil {
		slog.Warn("failed to discard stale session", "error", err)
	}
	return nil, nil
}

// Clear removes the session slot. Called when the user resets, declines a
// recovery offer, or acknowledges a finished batch.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Delete(ctx, m.userID)
}
