package ledger

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github-activity-relay/internal/models"
)

// legacyTimeColumns lists timestamp column names used by older layouts.
var legacyTimeColumns = []string{"delivered_at", "pushed_at"}

func (l *Ledger) migrate(ctx context.Context) error {
	db := l.db.WithContext(ctx)
	m := db.Migrator()

	switch {
	case !m.HasTable(models.PushedEventsTable):
		logrus.Info("Creating ledger table")
		if err := m.CreateTable(&models.PushedEvent{}); err != nil {
			return err
		}
	case !m.HasColumn(&models.PushedEvent{}, "account"):
		if err := l.upgradeLegacy(ctx); err != nil {
			return err
		}
	}

	if m.HasTable(models.LegacyEventIDsTable) {
		return l.absorbLegacyIDs(ctx)
	}
	return nil
}

// legacyTimeColumn returns the timestamp column of a legacy table.
func legacyTimeColumn(m gorm.Migrator, table string) (string, error) {
	for _, c := range legacyTimeColumns {
		if m.HasColumn(table, c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("legacy ledger table %s has no timestamp column", table)
}

// absorbLegacyIDs copies the rows of the old id table into the ledger under
// the empty account and drops it. Ids already present are kept as they are.
func (l *Ledger) absorbLegacyIDs(ctx context.Context) error {
	logrus.WithField("table", models.LegacyEventIDsTable).Warn("Importing legacy event id table")

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		timeColumn, err := legacyTimeColumn(tx.Migrator(), models.LegacyEventIDsTable)
		if err != nil {
			return err
		}

		res := tx.Exec(
			"INSERT INTO ? (account, event_id, delivered_at) SELECT '', event_id, COALESCE(?, CURRENT_TIMESTAMP) FROM ? "+
				"WHERE event_id NOT IN (SELECT event_id FROM ? WHERE account = '')",
			clause.Table{Name: models.PushedEventsTable},
			clause.Column{Name: timeColumn},
			clause.Table{Name: models.LegacyEventIDsTable},
			clause.Table{Name: models.PushedEventsTable},
		)
		if res.Error != nil {
			return fmt.Errorf("failed to copy legacy ids: %w", res.Error)
		}

		var missing int64
		err = tx.Table(models.LegacyEventIDsTable).
			Where("event_id NOT IN (?)", tx.Model(&models.PushedEvent{}).Select("event_id").Where("account = ?", "")).
			Count(&missing).Error
		if err != nil {
			return fmt.Errorf("failed to verify legacy ids: %w", err)
		}
		if missing > 0 {
			return fmt.Errorf("legacy id import left %d ids behind", missing)
		}

		if err := tx.Migrator().DropTable(models.LegacyEventIDsTable); err != nil {
			return fmt.Errorf("failed to drop legacy id table: %w", err)
		}

		logrus.WithField("rows", res.RowsAffected).Info("Legacy event id table imported")
		return nil
	})
}

// upgradeLegacy widens the single-key legacy table to (account, event_id).
// Legacy rows get an empty account. The old table is dropped only after
// every row has been copied.
func (l *Ledger) upgradeLegacy(ctx context.Context) error {
	legacyTable := models.PushedEventsTable + "_legacy"
	logrus.WithField("table", models.PushedEventsTable).Warn("Upgrading legacy ledger layout")

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := tx.Migrator()

		timeColumn, err := legacyTimeColumn(m, models.PushedEventsTable)
		if err != nil {
			return err
		}

		var before int64
		if err := tx.Table(models.PushedEventsTable).Count(&before).Error; err != nil {
			return fmt.Errorf("failed to count legacy rows: %w", err)
		}

		if err := m.RenameTable(models.PushedEventsTable, legacyTable); err != nil {
			return fmt.Errorf("failed to rename legacy table: %w", err)
		}
		if err := m.CreateTable(&models.PushedEvent{}); err != nil {
			return fmt.Errorf("failed to create ledger table: %w", err)
		}

		err = tx.Exec(
			"INSERT INTO ? (account, event_id, delivered_at) SELECT '', event_id, COALESCE(?, CURRENT_TIMESTAMP) FROM ?",
			clause.Table{Name: models.PushedEventsTable},
			clause.Column{Name: timeColumn},
			clause.Table{Name: legacyTable},
		).Error
		if err != nil {
			return fmt.Errorf("failed to copy legacy rows: %w", err)
		}

		var after int64
		if err := tx.Model(&models.PushedEvent{}).Count(&after).Error; err != nil {
			return fmt.Errorf("failed to count upgraded rows: %w", err)
		}
		if after != before {
			return fmt.Errorf("legacy upgrade copied %d of %d rows", after, before)
		}

		if err := m.DropTable(legacyTable); err != nil {
			return fmt.Errorf("failed to drop legacy table: %w", err)
		}

		logrus.WithField("rows", after).Info("Legacy ledger upgrade completed")
		return nil
	})
}

// ImportIDs records event ids that predate per-account tracking under the
// empty account, all in one transaction. It returns the number of new
// entries.
func (l *Ledger) ImportIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	at := timestamp(l.now())
	entries := make([]models.PushedEvent, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, models.PushedEvent{EventID: id, DeliveredAt: at})
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var imported int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(entries, 100)
		imported = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to import legacy ids: %w", err)
	}
	return imported, nil
}

// ImportFile imports a JSON array of event ids written by older releases.
// A missing file is not an error.
func (l *Ledger) ImportFile(ctx context.Context, path string) (int64, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logrus.WithField("path", path).Warn("Legacy id file does not exist, skipping import")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy id file: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return 0, fmt.Errorf("failed to parse legacy id file: %w", err)
	}

	n, err := l.ImportIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{"path": path, "imported": n}).Info("Imported legacy event ids")
	return n, nil
}
