package notifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/db"
	"github-activity-relay/internal/ledger"
	"github-activity-relay/internal/metrics"
	"github-activity-relay/internal/models"
	"github-activity-relay/internal/render"
	"github-activity-relay/internal/selector"
	"github-activity-relay/internal/transport"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *recordingSender) Send(ctx context.Context, dest transport.Destination, n *render.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, dest.ID+": "+n.Body)
	return s.err
}

type panickingRenderer struct{}

func (panickingRenderer) Render(account string, event models.Event) (*render.Notification, error) {
	panic("renderer exploded")
}

type failingRenderer struct{}

func (failingRenderer) Render(account string, event models.Event) (*render.Notification, error) {
	return nil, errors.New("template backend unavailable")
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, account, eventID string, at time.Time) error {
	return errors.New("database is locked")
}

type fixture struct {
	conn   *gorm.DB
	ledger *ledger.Ledger
	sender *recordingSender
	disp   *transport.Dispatcher
	rend   *render.Renderer
	m      *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "notifier.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, conn.AutoMigrate(&models.DeliveryLog{}))

	l, err := ledger.New(context.Background(), conn)
	require.NoError(t, err)

	rend, err := render.New(config.TemplatesConfig{}, false)
	require.NoError(t, err)

	sender := &recordingSender{}
	disp := transport.NewDispatcher(transport.ParseDestinations([]string{"telegram:group:1", "telegram:group:2"}))
	disp.Register(transport.PlatformTelegram, sender)

	return &fixture{
		conn:   conn,
		ledger: l,
		sender: sender,
		disp:   disp,
		rend:   rend,
		m:      metrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) notifier(r Renderer, rec Recorder) *Notifier {
	return New(r, f.disp, rec, f.conn, f.m, 0)
}

func watchEvent(id, createdAt string) models.Event {
	return models.Event{
		ID:        id,
		Type:      models.WatchEvent,
		Actor:     models.Actor{Login: "alice"},
		Repo:      models.Repo{Name: "bob/tool"},
		Payload:   models.Payload{Action: "started"},
		CreatedAt: createdAt,
	}
}

func TestDeliverAndRecord(t *testing.T) {
	f := newFixture(t)
	n := f.notifier(f.rend, f.ledger)
	ctx := context.Background()

	outcome, err := n.DeliverAndRecord(ctx, "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)

	assert.Equal(t, []string{"1: alice starred bob/tool", "2: alice starred bob/tool"}, f.sender.texts)
	assert.True(t, f.ledger.Has(ctx, "alice", "e1"))

	// The entry is keyed by the event's creation time.
	last, ok, err := f.ledger.LastDeliveredTime(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), last)

	var logs []models.DeliveryLog
	require.NoError(t, f.conn.Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, models.DeliveryStatusSuccess, logs[0].Status)
	assert.Equal(t, "telegram:group:1", logs[0].Destination)
	assert.Equal(t, logs[0].DeliveryID, logs[1].DeliveryID)
}

func TestDeliverAndRecordPartialFailureStillRecords(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("chat not found")
	n := f.notifier(f.rend, f.ledger)
	ctx := context.Background()

	outcome, err := n.DeliverAndRecord(ctx, "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
	assert.Len(t, f.sender.texts, 2, "every destination is attempted")
	assert.True(t, f.ledger.Has(ctx, "alice", "e1"))

	var failures int64
	require.NoError(t, f.conn.Model(&models.DeliveryLog{}).Where("status = ?", models.DeliveryStatusFailure).Count(&failures).Error)
	assert.Equal(t, int64(2), failures)
}

func TestDeliverAndRecordTemplateMissing(t *testing.T) {
	f := newFixture(t)
	n := f.notifier(f.rend, f.ledger)
	ctx := context.Background()

	event := watchEvent("g1", "2024-06-01T09:00:00Z")
	event.Type = "GollumEvent"

	outcome, err := n.DeliverAndRecord(ctx, "alice", event)
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
	assert.Empty(t, f.sender.texts)
	assert.True(t, f.ledger.Has(ctx, "alice", "g1"))

	last, ok, err := f.ledger.LastDeliveredTime(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), last)

	var log models.DeliveryLog
	require.NoError(t, f.conn.First(&log).Error)
	assert.Equal(t, models.DeliveryStatusIgnored, log.Status)
}

func TestDeliverAndRecordRetryableLeavesEventSelectable(t *testing.T) {
	for name, r := range map[string]Renderer{
		"render error": failingRenderer{},
		"panic":        panickingRenderer{},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			n := f.notifier(r, f.ledger)
			ctx := context.Background()
			event := watchEvent("e1", "2024-06-01T10:00:00Z")

			outcome, err := n.DeliverAndRecord(ctx, "alice", event)
			assert.Error(t, err)
			assert.Equal(t, Retryable, outcome)
			assert.False(t, f.ledger.Has(ctx, "alice", "e1"))

			again := selector.New(f.ledger, 2).SelectNew(ctx, "alice", []models.Event{event})
			require.Len(t, again, 1)
			assert.Equal(t, "e1", again[0].ID)
		})
	}
}

func TestDeliverAndRecordRecordFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	n := f.notifier(f.rend, failingRecorder{})

	outcome, err := n.DeliverAndRecord(context.Background(), "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	assert.Error(t, err)
	assert.Equal(t, Retryable, outcome)
}

func TestDeliverAndRecordCancelledContext(t *testing.T) {
	f := newFixture(t)
	n := f.notifier(f.rend, f.ledger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := n.DeliverAndRecord(ctx, "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Retryable, outcome)
	assert.Empty(t, f.sender.texts)
}

func TestProcessAccountKeepsOrderAndPaces(t *testing.T) {
	f := newFixture(t)
	n := New(f.rend, f.disp, f.ledger, f.conn, f.m, time.Second)
	var waits []time.Duration
	n.sleep = func(ctx context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}

	events := []models.Event{
		watchEvent("e3", "2024-06-01T10:03:00Z"),
		watchEvent("e2", "2024-06-01T10:02:00Z"),
		watchEvent("e1", "2024-06-01T10:01:00Z"),
	}
	results := n.ProcessAccount(context.Background(), "alice", events)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, events[i].ID, r.Event.ID)
		assert.Equal(t, Delivered, r.Outcome)
	}
	assert.Equal(t, []time.Duration{time.Second, time.Second}, waits)

	count, err := f.ledger.Count(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestProcessAccountStopsWhenCancelledDuringPause(t *testing.T) {
	f := newFixture(t)
	n := New(f.rend, f.disp, f.ledger, f.conn, f.m, time.Second)
	n.sleep = func(ctx context.Context, d time.Duration) bool { return false }

	results := n.ProcessAccount(context.Background(), "alice", []models.Event{
		watchEvent("e2", "2024-06-01T10:02:00Z"),
		watchEvent("e1", "2024-06-01T10:01:00Z"),
	})
	require.Len(t, results, 1)
	assert.Equal(t, "e2", results[0].Event.ID)
	assert.False(t, f.ledger.Has(context.Background(), "alice", "e1"))
}

func TestTestDoesNotTouchLedger(t *testing.T) {
	f := newFixture(t)
	n := f.notifier(f.rend, f.ledger)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	notification, results, err := n.Test(ctx, "alice", render.SampleEvent("alice", now))
	require.NoError(t, err)
	assert.Contains(t, notification.Body, "Test notification")
	assert.Len(t, results, 2)

	total, err := f.ledger.CountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)
	n := f.notifier(f.rend, f.ledger)

	results := n.Broadcast(context.Background(), "relay started")
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"1: relay started", "2: relay started"}, f.sender.texts)
}

// cancellingSender cancels the cycle context as soon as it is called and
// then waits to see whether its own context follows.
type cancellingSender struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	sent   int
}

func (s *cancellingSender) Send(ctx context.Context, dest transport.Destination, n *render.Notification) error {
	s.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}

func TestDeliverAndRecordFinishesStartedDelivery(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &cancellingSender{cancel: cancel}
	disp := transport.NewDispatcher(transport.ParseDestinations([]string{"telegram:group:1", "telegram:group:2"}))
	disp.Register(transport.PlatformTelegram, sender)
	n := New(f.rend, disp, f.ledger, f.conn, f.m, 0)

	outcome, err := n.DeliverAndRecord(ctx, "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, 2, sender.sent)
	assert.True(t, f.ledger.Has(context.Background(), "alice", "e1"))

	var failures int64
	require.NoError(t, f.conn.Model(&models.DeliveryLog{}).Where("status = ?", models.DeliveryStatusFailure).Count(&failures).Error)
	assert.Zero(t, failures)
}

func TestDeliverAndRecordCancelledEverywhereIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.sender.err = fmt.Errorf("post sendMessage: %w", context.Canceled)
	n := f.notifier(f.rend, f.ledger)
	ctx := context.Background()

	outcome, err := n.DeliverAndRecord(ctx, "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	assert.Error(t, err)
	assert.Equal(t, Retryable, outcome)
	assert.False(t, f.ledger.Has(ctx, "alice", "e1"))
}

func TestDeliverAndRecordWithoutDestinations(t *testing.T) {
	f := newFixture(t)
	disp := transport.NewDispatcher(transport.ParseDestinations([]string{"bogus", "aiocqhttp:GroupMessage:1"}))
	disp.Register(transport.PlatformTelegram, f.sender)
	n := New(f.rend, disp, f.ledger, f.conn, f.m, 0)
	ctx := context.Background()

	outcome, err := n.DeliverAndRecord(ctx, "alice", watchEvent("e1", "2024-06-01T10:00:00Z"))
	assert.ErrorIs(t, err, ErrNoDestinations)
	assert.Equal(t, Retryable, outcome)
	assert.False(t, f.ledger.Has(ctx, "alice", "e1"))

	var logs int64
	require.NoError(t, f.conn.Model(&models.DeliveryLog{}).Count(&logs).Error)
	assert.Zero(t, logs)
}
