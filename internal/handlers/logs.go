package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github-activity-relay/internal/models"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// GetLogs returns the newest delivery logs, optionally for one account
func (h *Handlers) GetLogs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_limit", Message: "Limit must be a positive integer", Code: http.StatusBadRequest})
			return
		}
		limit = min(n, maxLogLimit)
	}

	query := h.db.WithContext(c.Request.Context()).Order("id desc").Limit(limit)
	if account := c.Query("account"); account != "" {
		query = query.Where("account = ?", account)
	}

	var logs []models.DeliveryLog
	if err := query.Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetLog returns a single log by ID
func (h *Handlers) GetLog(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_id", Message: "Invalid log ID", Code: http.StatusBadRequest})
		return
	}
	var log models.DeliveryLog
	if err := h.db.WithContext(c.Request.Context()).First(&log, id).Error; err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "Log not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, log)
}
