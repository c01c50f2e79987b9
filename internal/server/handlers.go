package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/raphaelgruber/bulkgen/internal/db"
	"github.com/raphaelgruber/bulkgen/internal/metrics"
	"github.com/raphaelgruber/bulkgen/internal/models"
	"github.com/raphaelgruber/bulkgen/internal/service"
)

type submitJobRequest struct {
	UserID string             `json:"user_id" binding:"required"`
	PlanID string             `json:"plan_id"`
	Items  []models.ItemInput `json:"items" binding:"required"`
}

type submitJobResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Quota  quotaResponse    `json:"quota"`
}

type quotaResponse struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type jobResponse struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Status    models.JobStatus `json:"status"`
	Counts    models.JobCounts `json:"counts"`
	Progress  float64          `json:"progress"`
	Error     *string          `json:"error,omitempty"`
	CreatedAt string           `json:"created_at"`
	Items     []models.Item    `json:"items,omitempty"`
}

func toJobResponse(job *models.Job, includeItems bool) jobResponse {
	counts := job.Counts()
	resp := jobResponse{
		ID:        job.ID,
		UserID:    job.UserID,
		Status:    job.Status,
		Counts:    counts,
		Progress:  models.DeriveProgress(counts),
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if includeItems {
		resp.Items = job.Items
	}
	return resp
}

// submitJob admits, persists, and starts a new bulk job. The server owns
// job identity: client-supplied IDs are never accepted.
func (s *Server) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one item is required"})
		return
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("item %d has no name", i)})
			return
		}
	}

	plan := models.LookupPlan(req.PlanID)
	gate := service.NewQuotaGate(&planLedger{store: s.store, limit: plan.MonthlyLimit})
	usage, err := gate.Admit(c.Request.Context(), req.UserID, plan, len(req.Items))
	if err != nil {
		var admErr *service.AdmissionError
		if errors.As(err, &admErr) {
			s.logger.Warn("batch denied admission",
				"user", req.UserID, "reason", admErr.Reason, "requested", admErr.Requested)
			c.JSON(http.StatusForbidden, gin.H{
				"error":     admErr.Error(),
				"reason":    admErr.Reason,
				"requested": admErr.Requested,
				"batch_cap": admErr.BatchCap,
				"remaining": admErr.Remaining,
			})
			return
		}
		s.logger.Error("quota pre-flight failed", "user", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
		return
	}

	job := &models.Job{
		ID:     uuid.New().String()[:8],
		UserID: req.UserID,
		Status: models.JobInitializing,
	}
	for i, input := range req.Items {
		job.Items = append(job.Items, models.Item{
			ID:     fmt.Sprintf("%s-%d", job.ID, i),
			Input:  input,
			Status: models.ItemPending,
		})
	}

	started := time.Now()
	if err := s.store.CreateJob(c.Request.Context(), job); err != nil {
		s.record(metrics.OpJobSubmit, started, err)
		s.logger.Error("failed to persist job", "user", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}
	s.record(metrics.OpJobSubmit, started, nil)

	s.runner.StartJob(c.Request.Context(), job)
	s.logger.Info("job submitted", "job_id", job.ID, "user", req.UserID, "items", len(job.Items))

	c.JSON(http.StatusCreated, submitJobResponse{
		JobID:  job.ID,
		Status: job.Status,
		Quota: quotaResponse{
			Used:      usage.Used,
			Limit:     usage.Limit,
			Remaining: usage.Remaining(),
		},
	})
}

func (s *Server) getJob(c *gin.Context) {
	id := c.Param("id")
	started := time.Now()
	job, err := s.store.GetJob(c.Request.Context(), id)
	s.record(metrics.OpDBQuery, started, err)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to load job", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	includeItems := c.Query("items") == "true"
	c.JSON(http.StatusOK, toJobResponse(job, includeItems))
}

func (s *Server) listActiveJobs(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	started := time.Now()
	jobs, err := s.store.ListActiveJobs(c.Request.Context(), userID)
	s.record(metrics.OpDBQuery, started, err)
	if err != nil {
		s.logger.Error("failed to list active jobs", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) getQuota(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	plan := models.LookupPlan(c.Query("plan_id"))

	usage, err := s.store.GetUsage(c.Request.Context(), userID, models.BillingPeriod(), plan.MonthlyLimit)
	if err != nil {
		s.logger.Error("failed to load quota", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load quota"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":   plan.ID,
		"period": models.BillingPeriod(),
		"quota": quotaResponse{
			Used:      usage.Used,
			Limit:     usage.Limit,
			Remaining: usage.Remaining(),
		},
	})
}

func (s *Server) getStats(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.collector.Snapshot())
}

func (s *Server) record(op string, started time.Time, err error) {
	if s.collector == nil {
		return
	}
	if err != nil {
		s.collector.RecordError(op)
		return
	}
	s.collector.RecordTiming(op, time.Since(started))
}

// planLedger adapts the store's period-scoped quota queries to the gate's
// user-scoped interface, binding the current period and the plan's limit.
type planLedger struct {
	store Store
	limit int
}

func (l *planLedger) GetUsage(ctx context.Context, userID string) (models.QuotaState, error) {
	return l.store.GetUsage(ctx, userID, models.BillingPeriod(), l.limit)
}

func (l *planLedger) IncrementUsage(ctx context.Context, userID string, n int) (models.QuotaState, error) {
	return models.QuotaState{}, errors.New("increments happen in the runner, not at admission")
}
