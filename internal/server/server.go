// Package server exposes the job store over HTTP with a live progress feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/bulkgen/internal/metrics"
	"github.com/raphaelgruber/bulkgen/internal/models"
)

// Store is the persistence surface the HTTP layer needs. Implemented by
// *db.Client; faked in tests.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListActiveJobs(ctx context.Context, userID string) ([]models.Job, error)
	GetUsage(ctx context.Context, userID, period string, limit int) (models.QuotaState, error)
}

// JobRunner starts background processing for a persisted job.
type JobRunner interface {
	StartJob(ctx context.Context, job *models.Job)
}

// Server wires the HTTP API, the progress feed, and the job runner.
type Server struct {
	store     Store
	runner    JobRunner
	collector *metrics.Collector
	logger    *slog.Logger
	hub       *Hub
	engine    *gin.Engine
	http      *http.Server
}

// New creates a server. The collector may be nil when metrics are not
// wanted (tests).
func New(store Store, runner JobRunner, collector *metrics.Collector, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))

	s := &Server{
		store:     store,
		runner:    runner,
		collector: collector,
		logger:    logger,
		hub:       NewHub(store, logger),
		engine:    engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.health)

	api := s.engine.Group("/api")
	{
		api.POST("/jobs", s.submitJob)
		api.GET("/jobs", s.listActiveJobs)
		api.GET("/jobs/:id", s.getJob)
		api.GET("/jobs/:id/ws", s.hub.Subscribe)
		api.GET("/quota", s.getQuota)
		api.GET("/stats", s.getStats)
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// NotifyJob pushes the job's current state to progress subscribers. Wire
// it as the runner's notify hook.
func (s *Server) NotifyJob(jobID string) {
	s.hub.Broadcast(jobID)
}

// Run serves HTTP until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, port string) error {
	s.http = &http.Server{
		Addr:    ":" + port,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", port)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Close()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
