package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github-activity-relay/internal/models"
	"github-activity-relay/internal/scheduler"
)

// StartScheduler starts the polling scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		c.JSON(code, models.ErrorResponse{Error: "scheduler_error", Message: err.Error(), Code: code})
		return
	}
	c.Status(http.StatusOK)
}

// StopScheduler stops the polling scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.Status(http.StatusOK)
}

// RunOnce runs one polling cycle and waits for it. A disconnecting client
// does not cut the cycle short.
func (h *Handlers) RunOnce(c *gin.Context) {
	err := h.scheduler.RunOnce(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, scheduler.ErrCycleInProgress):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "cycle_in_progress", Message: err.Error(), Code: http.StatusConflict})
	case errors.Is(err, scheduler.ErrNoDestinations):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "no_destinations", Message: err.Error(), Code: http.StatusConflict})
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "cycle_failed", Message: err.Error(), Code: http.StatusInternalServerError})
	default:
		c.Status(http.StatusOK)
	}
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"state":        h.scheduler.State().String(),
		"interval":     h.scheduler.Interval().String(),
		"last_cycle":   timePtr(h.scheduler.LastCycle()),
		"last_cleanup": timePtr(h.scheduler.LastCleanup()),
		"next_cleanup": timePtr(h.scheduler.NextCleanup()),
	})
}
