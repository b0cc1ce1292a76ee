// Package notifier renders selected events, fans them out to destinations
// and commits the outcome to the ledger.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github-activity-relay/internal/metrics"
	"github-activity-relay/internal/models"
	"github-activity-relay/internal/render"
	"github-activity-relay/internal/transport"
)

// ErrNoDestinations is returned when there is nowhere to deliver to.
var ErrNoDestinations = errors.New("no destinations configured")

// Outcome is the result of processing one event.
type Outcome int

const (
	// Delivered means the notification was rendered, sent and recorded.
	Delivered Outcome = iota
	// Ignored means the event can never be rendered and was recorded so it
	// is not tried again.
	Ignored
	// Retryable means nothing was recorded; the next cycle selects the
	// event again.
	Retryable
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Ignored:
		return "ignored"
	case Retryable:
		return "retryable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Renderer renders an event into a notification.
type Renderer interface {
	Render(account string, event models.Event) (*render.Notification, error)
}

// Deliverer fans a notification out to its destinations.
type Deliverer interface {
	Deliver(ctx context.Context, n *render.Notification) []transport.Result
	Destinations() []transport.Destination
}

// Recorder commits ledger entries.
type Recorder interface {
	Record(ctx context.Context, account, eventID string, at time.Time) error
}

// Notifier is the delivery orchestrator.
type Notifier struct {
	renderer  Renderer
	deliverer Deliverer
	ledger    Recorder
	db        *gorm.DB
	metrics   *metrics.Metrics
	delay     time.Duration
	sleep     func(context.Context, time.Duration) bool
}

// New creates a Notifier. db receives delivery logs and may be nil; delay
// paces successive deliveries of one account.
func New(renderer Renderer, deliverer Deliverer, ledger Recorder, db *gorm.DB, m *metrics.Metrics, delay time.Duration) *Notifier {
	return &Notifier{
		renderer:  renderer,
		deliverer: deliverer,
		ledger:    ledger,
		db:        db,
		metrics:   m,
		delay:     delay,
		sleep:     sleep,
	}
}

// DeliverAndRecord processes one event of account. The ledger entry, keyed
// by the event's own creation time, is written only after rendering and
// the delivery attempt have completed. A template-missing render is
// recorded as Ignored. Any other failure, including a failed ledger write,
// a delivery that no destination received because it was cancelled, or a
// missing destination list, is Retryable and leaves the ledger untouched.
func (n *Notifier) DeliverAndRecord(ctx context.Context, account string, event models.Event) (outcome Outcome, err error) {
	log := logrus.WithFields(logrus.Fields{
		"account":    account,
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	defer func() {
		if r := recover(); r != nil {
			outcome, err = Retryable, fmt.Errorf("panic while delivering event %s: %v", event.ID, r)
		}
		if err != nil {
			log.Errorf("Event left for retry: %v", err)
		}
		n.metrics.Outcomes.WithLabelValues(outcome.String()).Inc()
	}()

	created, err := event.Created()
	if err != nil {
		return Retryable, err
	}
	if err := ctx.Err(); err != nil {
		return Retryable, err
	}

	if len(n.deliverer.Destinations()) == 0 {
		return Retryable, ErrNoDestinations
	}

	deliveryID := uuid.NewString()

	notification, err := n.renderer.Render(account, event)
	if errors.Is(err, render.ErrTemplateMissing) {
		log.Infof("Ignoring event: %v", err)
		if err := n.ledger.Record(context.WithoutCancel(ctx), account, event.ID, created); err != nil {
			return Retryable, fmt.Errorf("failed to record ignored event: %w", err)
		}
		n.logDeliveries(deliveryID, account, event, []models.DeliveryLog{{
			Status:   models.DeliveryStatusIgnored,
			ErrorMsg: err.Error(),
		}})
		return Ignored, nil
	}
	if err != nil {
		return Retryable, err
	}

	// A started delivery runs to completion; cancellation only stops the
	// next event from starting.
	results := n.deliverer.Deliver(context.WithoutCancel(ctx), notification)
	if allCancelled(results) {
		return Retryable, fmt.Errorf("delivery of event %s was cancelled", event.ID)
	}

	if err := n.ledger.Record(context.WithoutCancel(ctx), account, event.ID, created); err != nil {
		return Retryable, fmt.Errorf("failed to record delivered event: %w", err)
	}

	logs := make([]models.DeliveryLog, 0, len(results))
	failed := 0
	for _, result := range results {
		entry := models.DeliveryLog{
			Destination: result.Destination.String(),
			Status:      models.DeliveryStatusSuccess,
		}
		if result.Err != nil {
			failed++
			entry.Status = models.DeliveryStatusFailure
			entry.ErrorMsg = result.Err.Error()
			n.metrics.DeliveryFailures.WithLabelValues(result.Destination.Platform).Inc()
		}
		logs = append(logs, entry)
	}
	n.logDeliveries(deliveryID, account, event, logs)

	if failed > 0 {
		log.Warnf("Delivered to %d of %d destinations", len(results)-failed, len(results))
	} else {
		log.Infof("Delivered to %d destinations", len(results))
	}
	return Delivered, nil
}

// Result pairs an event with its outcome.
type Result struct {
	Event   models.Event
	Outcome Outcome
	Err     error
}

// ProcessAccount delivers events in the given order, pausing the
// configured delay between deliveries. It stops early only when ctx is
// cancelled; the remaining events are left for the next cycle.
func (n *Notifier) ProcessAccount(ctx context.Context, account string, events []models.Event) []Result {
	results := make([]Result, 0, len(events))
	for i, event := range events {
		if i > 0 && n.delay > 0 {
			if !n.sleep(ctx, n.delay) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		outcome, err := n.DeliverAndRecord(ctx, account, event)
		results = append(results, Result{Event: event, Outcome: outcome, Err: err})
	}
	return results
}

// Broadcast sends a free-form message to every destination without
// touching the ledger.
func (n *Notifier) Broadcast(ctx context.Context, text string) []transport.Result {
	return n.deliverer.Deliver(ctx, &render.Notification{
		EventType: "RelayNotice",
		Body:      text,
		Format:    render.FormatText,
		CreatedAt: time.Now().UTC(),
	})
}

// Test renders event and delivers it without recording anything.
func (n *Notifier) Test(ctx context.Context, account string, event models.Event) (*render.Notification, []transport.Result, error) {
	notification, err := n.renderer.Render(account, event)
	if err != nil {
		return nil, nil, err
	}
	return notification, n.deliverer.Deliver(ctx, notification), nil
}

// Destinations returns the configured destinations.
func (n *Notifier) Destinations() []transport.Destination {
	return n.deliverer.Destinations()
}

// allCancelled reports whether every destination failed on a cancelled or
// expired context, in which case nobody received the notification.
func allCancelled(results []transport.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Err == nil || !(errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)) {
			return false
		}
	}
	return true
}

func (n *Notifier) logDeliveries(deliveryID, account string, event models.Event, logs []models.DeliveryLog) {
	if n.db == nil || len(logs) == 0 {
		return
	}
	for i := range logs {
		logs[i].DeliveryID = deliveryID
		logs[i].Account = account
		logs[i].EventID = event.ID
		logs[i].EventType = event.Type
	}
	if err := n.db.Create(&logs).Error; err != nil {
		logrus.WithField("event_id", event.ID).Errorf("Failed to write delivery logs: %v", err)
	}
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
