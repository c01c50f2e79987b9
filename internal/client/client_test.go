package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/bulkgen/internal/models"
	"github.com/raphaelgruber/bulkgen/internal/service"
)

func TestSubmitJob(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/jobs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"job_id": "abc12345", "status": "initializing"})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	jobID, err := c.SubmitJob(context.Background(), "user-1", []models.ItemInput{
		{Name: "Desk Lamp", Attributes: "warm light"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc12345", jobID)
	assert.Equal(t, "user-1", gotBody["user_id"])
	assert.Equal(t, "pro", gotBody["plan_id"])
}

func TestSubmitJobDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "bulk generation is not available on this plan",
			"reason": "feature_unavailable",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "free")
	_, err := c.SubmitJob(context.Background(), "user-1", []models.ItemInput{{Name: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature_unavailable")
}

func TestGetJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/jobs/abc12345", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("items"))
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "abc12345",
			"user_id":  "user-1",
			"status":   "processing",
			"counts":   map[string]int{"total": 4, "pending": 1, "processing": 1, "completed": 2},
			"progress": 0.5,
			"items": []map[string]any{
				{"id": "abc12345-0", "status": "completed"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	job, err := c.GetJobStatus(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, job.Status)
	require.NotNil(t, job.Summary)
	assert.Equal(t, 4, job.Summary.Total)
	assert.Equal(t, 2, job.Summary.Completed)
	require.NotNil(t, job.Progress)
	assert.InDelta(t, 0.5, *job.Progress, 0.0001)
	assert.Len(t, job.Items, 1)
}

func TestGetJobStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": "job not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	_, err := c.GetJobStatus(context.Background(), "gone")
	assert.ErrorIs(t, err, service.ErrJobNotFound)
}

func TestListActiveJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"jobs": []map[string]any{
				{"id": "j1", "status": "processing", "counts": map[string]int{"total": 3, "processing": 3}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	jobs, err := c.ListActiveJobs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	assert.NoError(t, c.Health(context.Background()))
}

func TestWatchJobStreamsUntilTerminal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/jobs/abc12345/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frames := []map[string]any{
			{"id": "abc12345", "status": "processing", "counts": map[string]int{"total": 2, "completed": 1, "pending": 1}, "progress": 0.5},
			{"id": "abc12345", "status": "completed", "counts": map[string]int{"total": 2, "completed": 2}, "progress": 1.0},
			{"id": "abc12345", "status": "completed", "counts": map[string]int{"total": 2, "completed": 2}, "progress": 1.0},
		}
		for _, f := range frames {
			require.NoError(t, conn.WriteJSON(f))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	var seen []models.JobStatus
	err := c.WatchJob(context.Background(), "abc12345", func(job *models.Job) error {
		seen = append(seen, job.Status)
		return nil
	})
	require.NoError(t, err)

	// The subscription ends with the first terminal snapshot; the extra
	// frame behind it is never delivered.
	assert.Equal(t, []models.JobStatus{models.JobProcessing, models.JobCompleted}, seen)
}

func TestWatchJobCallbackErrorStopsTheStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteJSON(map[string]any{"id": "abc12345", "status": "processing"})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	wantErr := errors.New("display went away")
	err := c.WatchJob(context.Background(), "abc12345", func(*models.Job) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestGetQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "pro", r.URL.Query().Get("plan_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"quota": map[string]int{"used": 42, "limit": 500, "remaining": 458},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "pro")
	quota, err := c.GetQuota(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 42, quota.Used)
	assert.Equal(t, 458, quota.Remaining())
}
