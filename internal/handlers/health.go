package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/models"
)

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: "stopped",
		Metrics:   make(map[string]string),
	}

	if sqlDB, err := h.db.DB(); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Scheduler = "running"
		response.Metrics["state"] = h.scheduler.State().String()
		if last := h.scheduler.LastCycle(); !last.IsZero() {
			response.Metrics["last_cycle"] = last.Format(time.RFC3339)
		}
		if next := h.scheduler.NextCleanup(); !next.IsZero() {
			response.Metrics["next_cleanup"] = next.Format(time.RFC3339)
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
