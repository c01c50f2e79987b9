// Package client provides an HTTP client for the bulkgen server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/bulkgen/internal/models"
	"github.com/raphaelgruber/bulkgen/internal/service"
)

// Client talks to the bulkgen server's JSON API. It satisfies
// service.JobStore so the remote poller can run against it directly.
type Client struct {
	baseURL    string
	planID     string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, BULKGEN_SERVER_URL is used,
// then localhost. Timeout is configurable via BULKGEN_CLIENT_TIMEOUT.
func New(baseURL, planID string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("BULKGEN_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8686"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := time.Minute
	if t := os.Getenv("BULKGEN_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		planID:  planID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// do sends a JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return service.ErrJobNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Reason != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Reason)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(raw))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type submitRequest struct {
	UserID string             `json:"user_id"`
	PlanID string             `json:"plan_id,omitempty"`
	Items  []models.ItemInput `json:"items"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SubmitJob submits a batch for server-side execution and returns the
// server-assigned job ID.
func (c *Client) SubmitJob(ctx context.Context, userID string, inputs []models.ItemInput) (string, error) {
	var resp submitResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", submitRequest{
		UserID: userID,
		PlanID: c.planID,
		Items:  inputs,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

type jobPayload struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Status    string           `json:"status"`
	Counts    models.JobCounts `json:"counts"`
	Progress  float64          `json:"progress"`
	Error     *string          `json:"error,omitempty"`
	CreatedAt string           `json:"created_at"`
	Items     []models.Item    `json:"items,omitempty"`
}

func (p jobPayload) toModel() models.Job {
	counts := p.Counts
	progress := p.Progress
	job := models.Job{
		ID:       p.ID,
		UserID:   p.UserID,
		Status:   models.JobStatus(p.Status),
		Summary:  &counts,
		Progress: &progress,
		Error:    p.Error,
		Items:    p.Items,
	}
	if created, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		job.CreatedAt = created
	}
	return job
}

// GetJobStatus fetches a job's current state including its items. Returns
// service.ErrJobNotFound when the server no longer knows the job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	var payload jobPayload
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID+"?items=true", nil, &payload); err != nil {
		return nil, err
	}
	job := payload.toModel()
	return &job, nil
}

// ListActiveJobs returns the user's still-running jobs, newest first.
func (c *Client) ListActiveJobs(ctx context.Context, userID string) ([]models.Job, error) {
	var resp struct {
		Jobs []jobPayload `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs?user_id="+userID, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]models.Job, 0, len(resp.Jobs))
	for _, p := range resp.Jobs {
		out = append(out, p.toModel())
	}
	return out, nil
}

// GetQuota returns the user's consumption for the current period.
func (c *Client) GetQuota(ctx context.Context, userID string) (models.QuotaState, error) {
	var resp struct {
		Quota struct {
			Used  int `json:"used"`
			Limit int `json:"limit"`
		} `json:"quota"`
	}
	path := "/api/quota?user_id=" + userID + "&plan_id=" + c.planID
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return models.QuotaState{}, err
	}
	return models.QuotaState{Used: resp.Quota.Used, Limit: resp.Quota.Limit}, nil
}

// Health reports whether the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// WatchJob subscribes to the job's live progress feed and invokes onEvent
// for every update until the job reaches a terminal state, the context is
// cancelled, or onEvent returns an error.
func (c *Client) WatchJob(ctx context.Context, jobID string, onEvent func(*models.Job) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL+"/api/jobs/"+jobID+"/ws", nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var payload jobPayload
		if err := conn.ReadJSON(&payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read progress event: %w", err)
		}

		job := payload.toModel()
		if err := onEvent(&job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
	}
}
