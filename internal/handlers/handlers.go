package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github-activity-relay/internal/models"
	"github-activity-relay/internal/render"
	"github-activity-relay/internal/scheduler"
	"github-activity-relay/internal/transport"
)

// LedgerReader is the read-only view of the ledger the handlers use.
type LedgerReader interface {
	Count(ctx context.Context, account string) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountByAccount(ctx context.Context) (map[string]int64, error)
	LastDeliveredTime(ctx context.Context, account string) (time.Time, bool, error)
}

// Scheduler is the control surface of the polling scheduler.
type Scheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	State() scheduler.State
	RunOnce(ctx context.Context) error
	Interval() time.Duration
	LastCycle() time.Time
	LastCleanup() time.Time
	NextCleanup() time.Time
}

// Tester sends test notifications.
type Tester interface {
	Test(ctx context.Context, account string, event models.Event) (*render.Notification, []transport.Result, error)
	Destinations() []transport.Destination
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	ledger    LedgerReader
	scheduler Scheduler
	tester    Tester
	accounts  []string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, l LedgerReader, s Scheduler, t Tester, accounts []string) *Handlers {
	return &Handlers{db: db, ledger: l, scheduler: s, tester: t, accounts: accounts}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.GetStatus)
		api.POST("/test", h.SendTest)

		api.GET("/ledger/:account", h.GetLedger)

		api.GET("/logs", h.GetLogs)
		api.GET("/logs/:id", h.GetLog)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
