package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/github"
	"github-activity-relay/internal/metrics"
	"github-activity-relay/internal/models"
	"github-activity-relay/internal/notifier"
	"github-activity-relay/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrCycleInProgress is returned by RunOnce while a cycle is polling.
	ErrCycleInProgress = errors.New("a polling cycle is already in progress")
	// ErrNoDestinations is returned by RunOnce when no destination is
	// configured; the cycle is skipped so events stay unrecorded.
	ErrNoDestinations = errors.New("no destinations configured")
)

// maxListedAccounts is how many accounts the startup notice names.
const maxListedAccounts = 5

// State is the polling state of the scheduler.
type State int32

const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "polling"
	}
	return "idle"
}

// Selector picks the new events of a fetched page.
type Selector interface {
	SelectNew(ctx context.Context, account string, events []models.Event) []models.Event
}

// Processor delivers selected events and sends free-form notices.
type Processor interface {
	ProcessAccount(ctx context.Context, account string, events []models.Event) []notifier.Result
	Broadcast(ctx context.Context, text string) []transport.Result
	Destinations() []transport.Destination
}

// Purger removes expired ledger entries.
type Purger interface {
	Purge(ctx context.Context, retentionDays int) (int64, error)
}

// Scheduler runs the polling loop and the cron-driven retention purge.
type Scheduler struct {
	config   config.MonitorConfig
	fetcher  github.Fetcher
	selector Selector
	notifier Processor
	ledger   Purger
	metrics  *metrics.Metrics

	cron      *cron.Cron
	cleanupID cron.EntryID
	state     atomic.Int32

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	isRunning   bool
	startupSent bool
	lastCycle   time.Time
	lastCleanup time.Time
	mu          sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg config.MonitorConfig, fetcher github.Fetcher, selector Selector, processor Processor, ledger Purger, m *metrics.Metrics) *Scheduler {
	m.TrackedAccounts.Set(float64(len(cfg.Accounts)))
	return &Scheduler{
		config:   cfg,
		fetcher:  fetcher,
		selector: selector,
		notifier: processor,
		ledger:   ledger,
		metrics:  m,
	}
}

// Start starts the polling loop and schedules the retention purge.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	schedule := s.config.CleanupSchedule
	if schedule == "" {
		schedule = "@every 24h"
	}

	c := cron.New()
	entryID, err := c.AddFunc(schedule, s.cleanup)
	if err != nil {
		return fmt.Errorf("failed to add cleanup job: %w", err)
	}

	s.cron = c
	s.cleanupID = entryID
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.isRunning = true

	s.wg.Add(1)
	go s.loop(s.ctx)

	logrus.Infof("Scheduler started for %d accounts with interval %v", len(s.config.Accounts), s.config.CheckInterval)
	return nil
}

// Stop cancels the loop between cycles and waits for it to exit. An event
// that is being delivered is allowed to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	cronCtx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// State reports whether a cycle is in flight.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Interval returns the configured polling interval.
func (s *Scheduler) Interval() time.Duration {
	return s.config.CheckInterval
}

// LastCycle returns when the last cycle finished.
func (s *Scheduler) LastCycle() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle
}

// LastCleanup returns when the ledger was last purged.
func (s *Scheduler) LastCleanup() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCleanup
}

// NextCleanup returns the next scheduled purge, or zero when stopped.
func (s *Scheduler) NextCleanup() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.cleanupID).Next
}

// Wait waits for the polling loop to exit
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunOnce runs a single cycle (for manual triggering). It does not wait
// for a cycle already in flight.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	logrus.Info("Running polling cycle once")
	return s.safeCycle(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.sendStartupNotice(ctx)
	s.cleanup()

	for {
		wait := s.config.CheckInterval
		if err := s.safeCycle(ctx); err != nil && !skipped(err) {
			if ctx.Err() != nil {
				return
			}
			logrus.Errorf("Polling cycle failed, backing off for %v: %v", s.config.ErrorBackoff, err)
			wait = s.config.ErrorBackoff
		}
		if !sleep(ctx, wait) {
			logrus.Info("Polling loop stopped")
			return
		}
	}
}

func skipped(err error) bool {
	return errors.Is(err, ErrCycleInProgress) || errors.Is(err, ErrNoDestinations)
}

// safeCycle runs one cycle, turning a panic into an error.
func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in polling cycle: %v", r)
		}
	}()
	return s.runCycle(ctx)
}

// runCycle polls every account in configuration order. One account's
// failure never blocks the others. A cycle started while another is
// polling is skipped, and so is every cycle while there is no destination.
func (s *Scheduler) runCycle(ctx context.Context) error {
	if len(s.notifier.Destinations()) == 0 {
		logrus.Warn("No destinations configured, skipping polling cycle")
		s.metrics.SkippedCycles.Inc()
		return ErrNoDestinations
	}

	if !s.state.CompareAndSwap(int32(Idle), int32(Polling)) {
		logrus.Warn("Previous polling cycle still running, skipping")
		s.metrics.SkippedCycles.Inc()
		return ErrCycleInProgress
	}
	defer s.state.Store(int32(Idle))

	start := time.Now()
	logrus.Info("Starting polling cycle")

	failed := 0
	for _, account := range s.config.Accounts {
		if ctx.Err() != nil {
			break
		}
		if err := s.pollAccount(ctx, account); err != nil {
			failed++
			logrus.WithField("account", account).Errorf("Failed to poll account: %v", err)
		}
	}

	duration := time.Since(start)
	s.metrics.PollCycles.Inc()
	s.metrics.CycleDuration.Observe(duration.Seconds())

	s.mu.Lock()
	s.lastCycle = time.Now()
	s.mu.Unlock()

	logrus.Infof("Polling cycle completed in %v", duration)

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := len(s.config.Accounts); n > 0 && failed == n {
		return fmt.Errorf("all %d accounts failed", n)
	}
	return nil
}

func (s *Scheduler) pollAccount(ctx context.Context, account string) error {
	log := logrus.WithField("account", account)

	events, err := s.fetcher.FetchEvents(ctx, account)
	if err != nil {
		s.metrics.FetchFailures.WithLabelValues(account).Inc()
		if errors.Is(err, github.ErrAccountNotFound) {
			log.Warn("Account does not exist")
		}
		return err
	}
	if len(events) == 0 {
		log.Debug("No events fetched")
		return nil
	}
	s.metrics.EventsFetched.WithLabelValues(account).Add(float64(len(events)))

	selected := s.selector.SelectNew(ctx, account, events)
	if len(selected) == 0 {
		return nil
	}
	s.metrics.EventsSelected.WithLabelValues(account).Add(float64(len(selected)))

	results := s.notifier.ProcessAccount(ctx, account, selected)

	pending := len(selected) - len(results)
	for _, r := range results {
		if r.Outcome == notifier.Retryable {
			pending++
		}
	}
	if pending > 0 {
		log.Warnf("%d events left for the next cycle", pending)
		// A conditional fetch would hide the unchanged page next time.
		if f, ok := s.fetcher.(github.Forgetter); ok {
			f.Forget(account)
		}
	}
	return nil
}

// cleanup purges expired and future-dated ledger entries.
func (s *Scheduler) cleanup() {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	removed, err := s.ledger.Purge(ctx, s.config.RetentionDays)
	if err != nil {
		logrus.Errorf("Failed to purge ledger: %v", err)
		return
	}
	s.metrics.PurgedEntries.Add(float64(removed))

	s.mu.Lock()
	s.lastCleanup = time.Now()
	s.mu.Unlock()

	logrus.Infof("Purged %d ledger entries older than %d days", removed, s.config.RetentionDays)
}

func (s *Scheduler) sendStartupNotice(ctx context.Context) {
	s.mu.Lock()
	send := s.config.StartupNotification && !s.startupSent
	s.startupSent = true
	s.mu.Unlock()
	if !send {
		return
	}

	results := s.notifier.Broadcast(ctx, StartupNotice(s.config.Accounts, s.config.CheckInterval))
	for _, r := range results {
		if r.Err != nil {
			logrus.WithField("destination", r.Destination.String()).Warnf("Failed to send startup notice: %v", r.Err)
		}
	}
}

// StartupNotice lists up to five tracked accounts and the interval.
func StartupNotice(accounts []string, interval time.Duration) string {
	var b strings.Builder
	b.WriteString("GitHub activity relay started\n")

	switch {
	case len(accounts) == 0:
		b.WriteString("Tracking: no accounts")
	case len(accounts) <= maxListedAccounts:
		b.WriteString("Tracking: " + strings.Join(accounts, ", "))
	default:
		fmt.Fprintf(&b, "Tracking: %s and %d more", strings.Join(accounts[:maxListedAccounts], ", "), len(accounts)-maxListedAccounts)
	}

	fmt.Fprintf(&b, "\nInterval: %d seconds", int(interval.Seconds()))
	return b.String()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
