package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/db"
	"github-activity-relay/internal/github"
	"github-activity-relay/internal/handlers"
	"github-activity-relay/internal/ledger"
	"github-activity-relay/internal/metrics"
	"github-activity-relay/internal/notifier"
	"github-activity-relay/internal/render"
	"github-activity-relay/internal/scheduler"
	"github-activity-relay/internal/selector"
	"github-activity-relay/internal/server"
	"github-activity-relay/internal/transport"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting GitHub Activity Relay")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("Unknown log level %q, keeping info", cfg.Log.Level)
	}

	ctx := context.Background()

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	l, err := ledger.New(ctx, dbConn)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	if cfg.Monitor.LegacyIDFile != "" {
		n, err := l.ImportFile(ctx, cfg.Monitor.LegacyIDFile)
		if err != nil {
			return fmt.Errorf("failed to import legacy event ids: %w", err)
		}
		logrus.Infof("Imported %d legacy event ids", n)
	}

	renderer, err := render.New(cfg.Templates, cfg.Monitor.ImageNotification)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	dispatcher, err := newDispatcher(ctx, cfg)
	if err != nil {
		return err
	}

	fetcher, err := github.New(cfg.GitHub)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}

	m := metrics.NewMetrics(nil)
	sel := selector.New(l, cfg.Monitor.EventLimit)
	n := notifier.New(renderer, dispatcher, l, dbConn, m, cfg.Monitor.DeliveryDelay)
	sched := scheduler.NewScheduler(cfg.Monitor, fetcher, sel, n, l, m)

	h := handlers.NewHandlers(dbConn, l, sched, n, cfg.Monitor.Accounts)
	router := server.SetupRouter(h, os.Getenv("GIN_MODE"))
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if sqlDB, err := dbConn.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// newDispatcher registers a sender for every platform the destinations use.
func newDispatcher(ctx context.Context, cfg *config.Config) (*transport.Dispatcher, error) {
	dests := transport.ParseDestinations(cfg.Monitor.Destinations)
	if len(dests) == 0 {
		logrus.Warn("No valid destinations configured, polling cycles will be skipped")
	}
	d := transport.NewDispatcher(dests)

	client := &http.Client{Timeout: 30 * time.Second}
	used := make(map[string]bool)
	for _, dest := range dests {
		used[dest.Platform] = true
	}

	if used[transport.PlatformTelegram] {
		d.Register(transport.PlatformTelegram, transport.NewTelegramSender(cfg.Telegram, client))
	}
	if used[transport.PlatformWebhook] {
		d.Register(transport.PlatformWebhook, transport.NewWebhookSender(cfg.Webhooks, client))
	}
	if used[transport.PlatformEmail] {
		g, err := transport.NewGmailSender(ctx, cfg.Gmail)
		if err != nil {
			return nil, fmt.Errorf("failed to create gmail sender: %w", err)
		}
		d.Register(transport.PlatformEmail, g)
	}
	return d, nil
}
