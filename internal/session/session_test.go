package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

func inFlightJob() *models.Job {
	content := "done"
	return &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Status: models.JobProcessing,
		Items: []models.Item{
			{ID: "a", Status: models.ItemCompleted, Content: &content, QuotaCounted: true},
			{ID: "b", Status: models.ItemProcessing},
			{ID: "c", Status: models.ItemPending},
		},
	}
}

func settledJob() *models.Job {
	job := inFlightJob()
	job.Status = models.JobCompleted
	for i := range job.Items {
		job.Items[i].Status = models.ItemCompleted
	}
	return job
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	sess := &models.Session{
		UserID:    "user-1",
		Step:      "processing",
		Job:       inFlightJob(),
		Quota:     models.QuotaState{Used: 12, Limit: 500},
		PlanID:    "pro",
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, "user-1", sess))

	got, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "processing", got.Step)
	assert.Equal(t, 12, got.Quota.Used)
	require.NotNil(t, got.Job)
	assert.Len(t, got.Job.Items, 3)
	assert.True(t, got.Job.Items[0].QuotaCounted)
}

func TestSQLiteStoreSaveSupersedes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "user-1", &models.Session{UserID: "user-1", Step: "input", UpdatedAt: time.Now()}))
	require.NoError(t, store.Save(ctx, "user-1", &models.Session{UserID: "user-1", Step: "results", UpdatedAt: time.Now()}))

	got, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "results", got.Step)
}

func TestSQLiteStoreMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, store.Delete(context.Background(), "nobody"))
}

func TestSQLiteStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	old := &models.Session{UserID: "user-old", UpdatedAt: time.Now().Add(-3 * time.Hour)}
	fresh := &models.Session{UserID: "user-new", UpdatedAt: time.Now()}
	require.NoError(t, store.Save(ctx, "user-old", old))
	require.NoError(t, store.Save(ctx, "user-new", fresh))

	pruned, err := store.PruneOlderThan(ctx, time.Now().Add(-TTL))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = store.Load(ctx, "user-old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, "user-new")
	assert.NoError(t, err)
}

func TestManagerRecoveryOffersInFlightSession(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, "user-1")
	ctx := context.Background()

	require.NoError(t, mgr.Record(ctx, "processing", inFlightJob(), models.QuotaState{Used: 1, Limit: 100}, "pro"))

	got, err := mgr.RecoveryCandidate(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.Job.ID)
}

func TestManagerExpiredSessionIsNeverACandidate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "user-1", &models.Session{
		UserID:    "user-1",
		Step:      "processing",
		Job:       inFlightJob(),
		UpdatedAt: time.Now().Add(-TTL - time.Minute),
	}))

	mgr := NewManager(store, "user-1")
	got, err := mgr.RecoveryCandidate(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Discarded, not merely skipped.
	_, err = store.Load(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerWrongUserSessionIsDiscarded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "user-1", &models.Session{
		UserID:    "someone-else",
		Step:      "processing",
		Job:       inFlightJob(),
		UpdatedAt: time.Now(),
	}))

	mgr := NewManager(store, "user-1")
	got, err := mgr.RecoveryCandidate(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.Load(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerSettledSessionIsNotACandidate(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, "user-1")
	ctx := context.Background()

	require.NoError(t, mgr.Record(ctx, "results", settledJob(), models.QuotaState{Used: 3, Limit: 100}, "pro"))

	got, err := mgr.RecoveryCandidate(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManagerNoSessionIsNotAnError(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), "user-1")
	got, err := mgr.RecoveryCandidate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManagerThrottledWritesSkipBurst(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, "user-1")
	ctx := context.Background()
	quota := models.QuotaState{Used: 0, Limit: 100}

	require.NoError(t, mgr.Record(ctx, "processing", inFlightJob(), quota, "pro"))

	// Within the interval the snapshot is left alone.
	burst := inFlightJob()
	burst.Items[2].Status = models.ItemProcessing
	require.NoError(t, mgr.RecordThrottled(ctx, time.Hour, "processing", burst, quota, "pro"))

	got, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ItemPending, got.Job.Items[2].Status)

	// A terminal job always flushes.
	require.NoError(t, mgr.RecordThrottled(ctx, time.Hour, "results", settledJob(), quota, "pro"))
	got, err = store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Job.Status)
}

func TestManagerClear(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, "user-1")
	ctx := context.Background()

	require.NoError(t, mgr.Record(ctx, "processing", inFlightJob(), models.QuotaState{}, "pro"))
	require.NoError(t, mgr.Clear(ctx))

	got, err := mgr.RecoveryCandidate(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
