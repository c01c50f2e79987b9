package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// jobRecord is the persisted shape of a job row.
type jobRecord struct {
	ID         surrealmodels.RecordID `json:"id"`
	UserID     string                 `json:"user_id"`
	Status     string                 `json:"status"`
	Total      int                    `json:"total"`
	Pending    int                    `json:"pending"`
	Processing int                    `json:"processing"`
	Completed  int                    `json:"completed"`
	Failed     int                    `json:"failed"`
	Error      *string                `json:"error,omitempty"`
	Created    time.Time              `json:"created"`
	Updated    time.Time              `json:"updated"`
}

// itemRecord is the persisted shape of a work item row.
type itemRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	JobID        string                 `json:"job_id"`
	Position     int                    `json:"position"`
	Name         string                 `json:"name"`
	Attributes   string                 `json:"attributes"`
	Target       string                 `json:"target"`
	Status       string                 `json:"status"`
	Content      *string                `json:"content,omitempty"`
	Error        *string                `json:"error,omitempty"`
	QualityScore *float64               `json:"quality_score,omitempty"`
	ProcessingMs *int64                 `json:"processing_ms,omitempty"`
	QuotaCounted bool                   `json:"quota_counted"`
	Started      *time.Time             `json:"started,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// recordIDString safely extracts the string ID from a SurrealDB RecordID.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

func (r jobRecord) toModel() (models.Job, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Job{}, err
	}
	return models.Job{
		ID:     id,
		UserID: r.UserID,
		Status: models.JobStatus(r.Status),
		Summary: &models.JobCounts{
			Total:      r.Total,
			Pending:    r.Pending,
			Processing: r.Processing,
			Completed:  r.Completed,
			Failed:     r.Failed,
		},
		Error:     r.Error,
		CreatedAt: r.Created,
		UpdatedAt: r.Updated,
	}, nil
}

func (r itemRecord) toModel() (models.Item, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return models.Item{}, err
	}
	return models.Item{
		ID: id,
		Input: models.ItemInput{
			Name:       r.Name,
			Attributes: r.Attributes,
			Target:     r.Target,
		},
		Status:       models.ItemStatus(r.Status),
		Content:      r.Content,
		Error:        r.Error,
		QualityScore: r.QualityScore,
		ProcessingMs: r.ProcessingMs,
		QuotaCounted: r.QuotaCounted,
		StartedAt:    r.Started,
		CompletedAt:  r.CompletedAt,
	}, nil
}

// CreateJob persists a new job row and its item rows. Every item starts
// pending; counters are initialized to match so the counts invariant holds
// from the first snapshot.
func (c *Client) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("job", $id) CONTENT {
			user_id: $user_id,
			status: $status,
			total: $total,
			pending: $total,
			processing: 0,
			completed: 0,
			failed: 0
		}
	`, map[string]any{
		"id":      job.ID,
		"user_id": job.UserID,
		"status":  string(job.Status),
		"total":   len(job.Items),
	})
	if err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}

	rows := make([]map[string]any, 0, len(job.Items))
	for i, it := range job.Items {
		rows = append(rows, map[string]any{
			"id":            it.ID,
			"job_id":        job.ID,
			"position":      i,
			"name":          it.Input.Name,
			"attributes":    it.Input.Attributes,
			"target":        it.Input.Target,
			"status":        string(models.ItemPending),
			"quota_counted": false,
		})
	}
	_, err = surrealdb.Query[any](ctx, c.db, `
		INSERT INTO gen_item $items
	`, map[string]any{"items": rows})
	if err != nil {
		return fmt.Errorf("create job items: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob fetches a job row with its items. Returns ErrNotFound when no job
// with the ID exists. The returned job carries the row's counter summary,
// which readers must prefer over re-deriving from the item list.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	jobs, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}
	if jobs == nil || len(*jobs) == 0 || len((*jobs)[0].Result) == 0 {
		return nil, ErrNotFound
	}

	job, err := (*jobs)[0].Result[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}

	items, err := surrealdb.Query[[]itemRecord](ctx, c.db, `
		SELECT * FROM gen_item WHERE job_id = $id ORDER BY position
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job items: %w", wrapQueryError(err))
	}
	if items != nil && len(*items) > 0 {
		job.Items = make([]models.Item, 0, len((*items)[0].Result))
		for _, rec := range (*items)[0].Result {
			it, err := rec.toModel()
			if err != nil {
				return nil, fmt.Errorf("decode item: %w", err)
			}
			job.Items = append(job.Items, it)
		}
	}

	return &job, nil
}

// ListActiveJobs returns a user's non-terminal jobs, newest first, without
// item lists. Used for active-job discovery on orchestrator (re)entry.
func (c *Client) ListActiveJobs(ctx context.Context, userID string) ([]models.Job, error) {
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		SELECT * FROM job
		WHERE user_id = $user_id AND status IN ["initializing", "processing"]
		ORDER BY created DESC
	`, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	jobs := make([]models.Job, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		job, err := rec.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetIncompleteJobs returns all non-terminal jobs across users. Used by the
// runner to resume interrupted work on server start.
func (c *Client) GetIncompleteJobs(ctx context.Context) ([]models.Job, error) {
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		SELECT * FROM job
		WHERE status IN ["initializing", "processing"]
		ORDER BY created ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("get incomplete jobs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	jobs := make([]models.Job, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		job, err := rec.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkItemProcessing transitions a pending item to processing and shifts
// the job counters in the same transaction.
func (c *Client) MarkItemProcessing(ctx context.Context, jobID, itemID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		UPDATE type::record("gen_item", $item) SET
			status = "processing",
			started = time::now();
		UPDATE type::record("job", $job) SET
			status = "processing",
			pending -= 1,
			processing += 1,
			updated = time::now();
		COMMIT TRANSACTION;
	`, map[string]any{"item": itemID, "job": jobID})
	if err != nil {
		return fmt.Errorf("mark item processing: %w", wrapQueryError(err))
	}
	return nil
}

// CompleteItem records a successful generation and shifts the job counters.
// The quota_counted flag is set here so a resumed or re-polled job never
// charges the item twice.
func (c *Client) CompleteItem(ctx context.Context, jobID, itemID, content string, score float64, took time.Duration) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		UPDATE type::record("gen_item", $item) SET
			status = "completed",
			content = $content,
			quality_score = $score,
			processing_ms = $ms,
			quota_counted = true,
			completed_at = time::now();
		UPDATE type::record("job", $job) SET
			processing -= 1,
			completed += 1,
			updated = time::now();
		COMMIT TRANSACTION;
	`, map[string]any{
		"item":    itemID,
		"job":     jobID,
		"content": content,
		"score":   score,
		"ms":      took.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("complete item: %w", wrapQueryError(err))
	}
	return nil
}

// FailItem records a failed generation and shifts the job counters.
func (c *Client) FailItem(ctx context.Context, jobID, itemID, errText string, took time.Duration) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		UPDATE type::record("gen_item", $item) SET
			status = "failed",
			error = $error,
			processing_ms = $ms,
			completed_at = time::now();
		UPDATE type::record("job", $job) SET
			processing -= 1,
			failed += 1,
			updated = time::now();
		COMMIT TRANSACTION;
	`, map[string]any{
		"item":  itemID,
		"job":   jobID,
		"error": errText,
		"ms":    took.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("fail item: %w", wrapQueryError(err))
	}
	return nil
}

// SetJobStatus updates a job's lifecycle status.
func (c *Client) SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, errText *string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("job", $id) SET
			status = $status,
			error = $error,
			updated = time::now()
	`, map[string]any{"id": jobID, "status": string(status), "error": errText})
	if err != nil {
		return fmt.Errorf("set job status: %w", wrapQueryError(err))
	}
	return nil
}

// PendingItems returns a job's non-terminal items in position order. Used
// when resuming an interrupted job.
func (c *Client) PendingItems(ctx context.Context, jobID string) ([]models.Item, error) {
	results, err := surrealdb.Query[[]itemRecord](ctx, c.db, `
		SELECT * FROM gen_item
		WHERE job_id = $id AND status IN ["pending", "processing"]
		ORDER BY position
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("pending items: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Item{}, nil
	}
	items := make([]models.Item, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		it, err := rec.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

// RequeueStaleItems resets items stuck in processing back to pending and
// repairs the job counters. Called before resuming an interrupted job so a
// crash mid-dispatch does not strand items.
func (c *Client) RequeueStaleItems(ctx context.Context, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $stale = (SELECT VALUE id FROM gen_item WHERE job_id = $job AND status = "processing");
		UPDATE $stale SET status = "pending", started = NONE;
		UPDATE type::record("job", $job) SET
			pending += array::len($stale),
			processing -= array::len($stale),
			updated = time::now();
		COMMIT TRANSACTION;
	`, map[string]any{"job": jobID})
	if err != nil {
		return fmt.Errorf("requeue stale items: %w", wrapQueryError(err))
	}
	return nil
}
