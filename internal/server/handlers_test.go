package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/bulkgen/internal/db"
	"github.com/raphaelgruber/bulkgen/internal/metrics"
	"github.com/raphaelgruber/bulkgen/internal/models"
)

type fakeStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	usage map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[string]*models.Job),
		usage: make(map[string]int),
	}
}

func (s *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) ListActiveJobs(_ context.Context, userID string) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, job := range s.jobs {
		if job.UserID == userID && !job.Status.Terminal() {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUsage(_ context.Context, userID, period string, limit int) (models.QuotaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.QuotaState{Used: s.usage[userID+":"+period], Limit: limit}, nil
}

func (s *fakeStore) setUsed(userID string, used int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[userID+":"+models.BillingPeriod()] = used
}

type fakeRunner struct {
	mu      sync.Mutex
	started []string
}

func (r *fakeRunner) StartJob(_ context.Context, job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, job.ID)
}

func (r *fakeRunner) startedJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func setupServer(t *testing.T) (*Server, *fakeStore, *fakeRunner) {
	t.Helper()
	store := newFakeStore()
	runner := &fakeRunner{}
	logger := slog.New(slog.DiscardHandler)
	return New(store, runner, metrics.NewCollector(), logger), store, runner
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSubmitJobCreatesAndStarts(t *testing.T) {
	s, store, runner := setupServer(t)

	body := `{"user_id":"user-1","plan_id":"pro","items":[
		{"name":"Desk Lamp","attributes":"warm light"},
		{"name":"Office Chair"}
	]}`
	w := doJSON(t, s, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody(t, w)
	jobID, _ := resp["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Len(t, jobID, 8)
	assert.Equal(t, string(models.JobInitializing), resp["status"])

	job, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", job.UserID)
	assert.Len(t, job.Items, 2)

	assert.Equal(t, []string{jobID}, runner.startedJobs())
}

func TestSubmitJobIgnoresClientSuppliedIDs(t *testing.T) {
	s, _, runner := setupServer(t)

	// Extra fields like an id are dropped, not honored.
	body := `{"user_id":"user-1","plan_id":"pro","id":"my-chosen-id","items":[{"name":"Widget"}]}`
	w := doJSON(t, s, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeBody(t, w)
	assert.NotEqual(t, "my-chosen-id", resp["job_id"])
	require.Len(t, runner.startedJobs(), 1)
	assert.NotEqual(t, "my-chosen-id", runner.startedJobs()[0])
}

func TestSubmitJobValidation(t *testing.T) {
	s, _, runner := setupServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"user_id":`},
		{"missing user", `{"items":[{"name":"a"}]}`},
		{"empty items", `{"user_id":"user-1","items":[]}`},
		{"blank item name", `{"user_id":"user-1","plan_id":"pro","items":[{"name":"  "}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/jobs", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, runner.startedJobs())
}

func TestSubmitJobDeniedForFreePlan(t *testing.T) {
	s, _, runner := setupServer(t)

	body := `{"user_id":"user-1","plan_id":"free","items":[{"name":"Widget"}]}`
	w := doJSON(t, s, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusForbidden, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "feature_unavailable", resp["reason"])
	assert.Empty(t, runner.startedJobs())
}

func TestSubmitJobBatchCapBoundary(t *testing.T) {
	s, _, _ := setupServer(t)

	items := make([]string, 0, 26)
	for i := 0; i < 26; i++ {
		items = append(items, `{"name":"item"}`)
	}

	// Starter caps batches at 25: exactly 25 is admitted.
	body := `{"user_id":"user-1","plan_id":"starter","items":[` + strings.Join(items[:25], ",") + `]}`
	w := doJSON(t, s, http.MethodPost, "/api/jobs", body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body = `{"user_id":"user-2","plan_id":"starter","items":[` + strings.Join(items, ",") + `]}`
	w = doJSON(t, s, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "batch_limit_exceeded", resp["reason"])
}

func TestSubmitJobDeniedOverMonthlyAllowance(t *testing.T) {
	s, store, _ := setupServer(t)
	store.setUsed("user-1", 498)

	body := `{"user_id":"user-1","plan_id":"pro","items":[{"name":"a"},{"name":"b"},{"name":"c"}]}`
	w := doJSON(t, s, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusForbidden, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "monthly_allowance_exceeded", resp["reason"])
	assert.EqualValues(t, 2, resp["remaining"])
}

func TestGetJob(t *testing.T) {
	s, store, _ := setupServer(t)
	content := "copy"
	require.NoError(t, store.CreateJob(context.Background(), &models.Job{
		ID:     "abc12345",
		UserID: "user-1",
		Status: models.JobProcessing,
		Items: []models.Item{
			{ID: "abc12345-0", Status: models.ItemCompleted, Content: &content},
			{ID: "abc12345-1", Status: models.ItemPending},
		},
	}))

	w := doJSON(t, s, http.MethodGet, "/api/jobs/abc12345", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "abc12345", resp["id"])
	assert.InDelta(t, 0.5, resp["progress"], 0.0001)
	assert.Nil(t, resp["items"])

	w = doJSON(t, s, http.MethodGet, "/api/jobs/abc12345?items=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody(t, w)
	assert.Len(t, resp["items"], 2)
}

func TestGetJobNotFound(t *testing.T) {
	s, _, _ := setupServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListActiveJobs(t *testing.T) {
	s, store, _ := setupServer(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, &models.Job{ID: "j1", UserID: "user-1", Status: models.JobProcessing}))
	require.NoError(t, store.CreateJob(ctx, &models.Job{ID: "j2", UserID: "user-1", Status: models.JobCompleted}))
	require.NoError(t, store.CreateJob(ctx, &models.Job{ID: "j3", UserID: "user-2", Status: models.JobProcessing}))

	w := doJSON(t, s, http.MethodGet, "/api/jobs?user_id=user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	jobs := resp["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].(map[string]any)["id"])

	w = doJSON(t, s, http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetQuota(t *testing.T) {
	s, store, _ := setupServer(t)
	store.setUsed("user-1", 42)

	w := doJSON(t, s, http.MethodGet, "/api/quota?user_id=user-1&plan_id=pro", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "pro", resp["plan"])
	quota := resp["quota"].(map[string]any)
	assert.EqualValues(t, 42, quota["used"])
	assert.EqualValues(t, 500, quota["limit"])
	assert.EqualValues(t, 458, quota["remaining"])
}

func TestHealthAndStats(t *testing.T) {
	s, _, _ := setupServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Contains(t, resp, "uptime_seconds")
}
