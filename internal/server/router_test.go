package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github-activity-relay/internal/handlers"
)

func TestSetupRouter(t *testing.T) {
	router := SetupRouter(handlers.NewHandlers(nil, nil, nil, nil, nil), gin.TestMode)
	assert.Equal(t, gin.TestMode, gin.Mode())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
