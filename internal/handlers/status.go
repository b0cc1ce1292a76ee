package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github-activity-relay/internal/models"
	"github-activity-relay/internal/scheduler"
)

// GetStatus reports tracked accounts, ledger counts and scheduler timing.
// It only reads from the ledger.
func (h *Handlers) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.ledger.CountByAccount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count ledger entries",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	total, err := h.ledger.CountAll(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count ledger entries",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	delivered := make(map[string]int64, len(h.accounts))
	for _, account := range h.accounts {
		delivered[account] = counts[account]
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		TrackedAccounts:  len(h.accounts),
		Destinations:     len(h.tester.Destinations()),
		AccountDelivered: delivered,
		TotalDelivered:   total,
		IntervalSeconds:  h.scheduler.Interval().Seconds(),
		Running:          h.scheduler.IsRunning(),
		Polling:          h.scheduler.State() == scheduler.Polling,
		LastCycle:        timePtr(h.scheduler.LastCycle()),
		LastCleanup:      timePtr(h.scheduler.LastCleanup()),
		NextCleanup:      timePtr(h.scheduler.NextCleanup()),
	})
}

// GetLedger returns the ledger state of one account
func (h *Handlers) GetLedger(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_account", Message: "Account is required", Code: http.StatusBadRequest})
		return
	}

	ctx := c.Request.Context()
	count, err := h.ledger.Count(ctx, account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count ledger entries",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	last, ok, err := h.ledger.LastDeliveredTime(ctx, account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to read last delivered time",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := models.LedgerResponse{Account: account, Delivered: count}
	if ok {
		response.LastDelivered = &last
	}
	c.JSON(http.StatusOK, response)
}
