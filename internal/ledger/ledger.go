// Package ledger records which feed events have already been delivered, per
// account, so that repeated polling never notifies twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github-activity-relay/internal/models"
)

// schemaReady holds the connection pools whose ledger schema was already
// verified or upgraded by this process.
var (
	schemaMu    sync.Mutex
	schemaReady = map[any]bool{}
)

// Ledger is the durable store of delivered events keyed by
// (account, event id). Every method is safe for concurrent use; each
// mutating call runs in its own transaction.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Ledger backed by db. The ledger table is created, or
// upgraded from the legacy single-key layout, before New returns; a failed
// upgrade is returned as an error and the Ledger must not be used.
func New(ctx context.Context, db *gorm.DB) (*Ledger, error) {
	l := &Ledger{db: db, now: time.Now}
	if err := l.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()
	if schemaReady[sqlDB] {
		return nil
	}
	if err := l.migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	schemaReady[sqlDB] = true
	return nil
}

// timestamp normalizes t to the stored form: UTC, second precision.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Has reports whether an entry exists for (account, eventID). Storage
// errors are logged and reported as "not delivered" so that a failure can
// at worst cause a duplicate notification, never a lost one.
func (l *Ledger) Has(ctx context.Context, account, eventID string) bool {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&models.PushedEvent{}).
		Where("account = ? AND event_id = ?", account, eventID).
		Count(&n).Error
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"account":  account,
			"event_id": eventID,
		}).Errorf("Failed to check ledger entry: %v", err)
		return false
	}
	return n > 0
}

// Record inserts an entry for (account, eventID) unless one already
// exists. A zero at means now; otherwise at should be the event's own
// creation time so the account cursor follows feed chronology. Inserting
// an existing pair is a successful no-op.
func (l *Ledger) Record(ctx context.Context, account, eventID string, at time.Time) error {
	if at.IsZero() {
		at = l.now()
	}
	entry := models.PushedEvent{
		Account:     account,
		EventID:     eventID,
		DeliveredAt: timestamp(at),
	}

	var inserted int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("failed to record event %s for %s: %w", eventID, account, err)
	}

	log := logrus.WithFields(logrus.Fields{"account": account, "event_id": eventID})
	if inserted > 0 {
		log.Debug("Recorded ledger entry")
	} else {
		log.Debug("Ledger entry already exists, skipping")
	}
	return nil
}

// LastDeliveredTime returns the newest entry timestamp of account. ok is
// false when the account has no history.
func (l *Ledger) LastDeliveredTime(ctx context.Context, account string) (t time.Time, ok bool, err error) {
	var entry models.PushedEvent
	err = l.db.WithContext(ctx).
		Where("account = ?", account).
		Order("delivered_at DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last delivered time for %s: %w", account, err)
	}
	return entry.DeliveredAt.UTC(), true, nil
}

// Count returns the number of entries recorded for account.
func (l *Ledger) Count(ctx context.Context, account string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&models.PushedEvent{}).
		Where("account = ?", account).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count entries for %s: %w", account, err)
	}
	return n, nil
}

// CountAll returns the number of entries across all accounts.
func (l *Ledger) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.PushedEvent{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// CountByAccount returns per-account entry counts.
func (l *Ledger) CountByAccount(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Account string
		N       int64
	}
	err := l.db.WithContext(ctx).
		Model(&models.PushedEvent{}).
		Select("account, COUNT(*) AS n").
		Group("account").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count entries by account: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Account] = r.N
	}
	return counts, nil
}

// Purge deletes entries older than retentionDays and entries dated in the
// future. An entry exactly retentionDays old is kept. Both deletions
// commit together or not at all.
func (l *Ledger) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	now := timestamp(l.now())
	cutoff := now.AddDate(0, 0, -retentionDays)

	var expired, future int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("delivered_at < ?", cutoff).Delete(&models.PushedEvent{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete expired entries: %w", res.Error)
		}
		expired = res.RowsAffected

		res = tx.Where("delivered_at > ?", now).Delete(&models.PushedEvent{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete future-dated entries: %w", res.Error)
		}
		future = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"expired":        expired,
		"future":         future,
	}).Info("Purged ledger entries")
	return expired + future, nil
}
