package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github-activity-relay/internal/models"
	"github-activity-relay/internal/render"
)

// TestRequest optionally names the account the sample event is rendered for.
type TestRequest struct {
	Account string `json:"account"`
}

// SendTest renders a sample push event and delivers it to every
// destination. Nothing is recorded in the ledger.
func (h *Handlers) SendTest(c *gin.Context) {
	var req TestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
			return
		}
	}

	account := req.Account
	if account == "" {
		if len(h.accounts) == 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "no_accounts", Message: "No account configured for the test notification", Code: http.StatusBadRequest})
			return
		}
		account = h.accounts[0]
	}

	event := render.SampleEvent(account, time.Now())
	notification, results, err := h.tester.Test(c.Request.Context(), account, event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "render_error", Message: err.Error(), Code: http.StatusInternalServerError})
		return
	}

	response := models.TestResponse{
		EventID:      event.ID,
		EventType:    event.Type,
		Text:         notification.Text(),
		Delivered:    []string{},
		Destinations: len(results),
	}
	for _, r := range results {
		if r.Err != nil {
			response.Failed = append(response.Failed, r.Destination.String()+": "+r.Err.Error())
			continue
		}
		response.Delivered = append(response.Delivered, r.Destination.String())
	}

	code := http.StatusOK
	if len(results) > 0 && len(response.Delivered) == 0 {
		code = http.StatusBadGateway
	}
	c.JSON(code, response)
}
