package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mqcontracts "medreminder/contracts/mq"
	"medreminder/internal/scheduler"
	"medreminder/pkg/outbox"
)

// OutboxAdmin 由 *outbox.ReplayService 实现
type OutboxAdmin interface {
	ListFailed(ctx context.Context, limit int) ([]*outbox.Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

// JobRunner 由 *scheduler.Runtime 实现
type JobRunner interface {
	Jobs() []string
	RunNow(ctx context.Context, jobID string) error
}

// DLQAdmin 由 *mq.Publisher 实现
type DLQAdmin interface {
	ReplayDLQ(ctx context.Context, routingKey string, limit int) (int, error)
}

type AdminHandler struct {
	auth   *Authenticator
	outbox OutboxAdmin
	dlq    DLQAdmin
	jobs   JobRunner
	logger *zap.Logger
}

func NewAdminHandler(auth *Authenticator, outbox OutboxAdmin, dlq DLQAdmin, jobs JobRunner, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, outbox: outbox, dlq: dlq, jobs: jobs, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login POST /admin/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("Admin login rejected", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ListFailedEvents GET /admin/outbox/failed?limit=100
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	events, err := h.outbox.ListFailed(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ReplayOutboxEvent POST /admin/outbox/:id/replay
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	err = h.outbox.ReplayEvent(c.Request.Context(), eventID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "replayed", "event_id": eventID})
	case errors.Is(err, outbox.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	case errors.Is(err, outbox.ErrNotReplayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to replay event", zap.Int64("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay event"})
	}
}

// ReplayFailedEvents POST /admin/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	n, err := h.outbox.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay failed events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed", "success_count": n, "limit": limit})
}

// ReplayDLQ POST /admin/dlq/replay?limit=100，把投递死信重新放回 reminder.dispatch
func (h *AdminHandler) ReplayDLQ(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	n, err := h.dlq.ReplayDLQ(c.Request.Context(), mqcontracts.RoutingKeyReminderDispatch, limit)
	if err != nil {
		h.logger.Error("Failed to replay dead letters", zap.Int("replayed", n), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay dead letters", "replayed": n})
		return
	}

	h.logger.Info("Dead letters replayed", zap.Int("replayed", n))
	c.JSON(http.StatusOK, gin.H{"status": "completed", "replayed": n, "limit": limit})
}

// ListJobs GET /admin/jobs
func (h *AdminHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.Jobs()})
}

// RunJob POST /admin/jobs/:id/run，同步执行一次并返回结果
func (h *AdminHandler) RunJob(c *gin.Context) {
	jobID := c.Param("id")

	err := h.jobs.RunNow(c.Request.Context(), jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "completed", "job": jobID})
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
	case errors.Is(err, scheduler.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "job is already running"})
	case errors.Is(err, scheduler.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is stopping"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "job": jobID})
	}
}
