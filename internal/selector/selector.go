// Package selector picks the genuinely new events out of a freshly fetched
// feed page.
package selector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/models"
)

// History is the part of the ledger the selector reads.
type History interface {
	LastDeliveredTime(ctx context.Context, account string) (time.Time, bool, error)
	Has(ctx context.Context, account, eventID string) bool
}

// Selector computes new events for an account under a per-cycle cap.
type Selector struct {
	history History
	limit   int
}

// New returns a Selector. A limit of zero or less means unlimited.
func New(history History, limit int) *Selector {
	return &Selector{history: history, limit: limit}
}

// Limit returns the configured per-cycle cap.
func (s *Selector) Limit() int {
	return s.limit
}

// SelectNew returns the events of a newest-first page that have not been
// delivered to account yet, in the same order, capped at the limit.
// Events at or before the account cursor are skipped without an id lookup;
// the rest are checked against the ledger by id. An event whose timestamp
// does not parse is skipped on its own.
func (s *Selector) SelectNew(ctx context.Context, account string, events []models.Event) []models.Event {
	if len(events) == 0 {
		return nil
	}

	log := logrus.WithField("account", account)

	cursor, hasCursor, err := s.history.LastDeliveredTime(ctx, account)
	if err != nil {
		// Without a cursor every event falls through to the id check.
		log.Warnf("Failed to read account cursor, checking ids only: %v", err)
		hasCursor = false
	}
	if hasCursor {
		log.Debugf("Account cursor at %s", cursor.Format(time.RFC3339))
	}

	var selected []models.Event
	for _, event := range events {
		if s.limit > 0 && len(selected) >= s.limit {
			log.Debugf("Reached event limit %d, stopping scan", s.limit)
			break
		}

		created, err := event.Created()
		if err != nil {
			log.WithField("event_id", event.ID).Warnf("Skipping event: %v", err)
			continue
		}
		// At or before the cursor is seen, same second included; the id
		// check below only runs for strictly newer events.
		if hasCursor && !created.After(cursor) {
			continue
		}
		if s.history.Has(ctx, account, event.ID) {
			continue
		}

		log.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Debug("Found new event")
		selected = append(selected, event)
	}

	log.Infof("Selected %d new events out of %d", len(selected), len(events))
	return selected
}
