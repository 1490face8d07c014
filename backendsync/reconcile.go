package backendsync

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
)

// Reconciliation writer: pulled records land in the local store through an
// existence-checked upsert. Inserts preserve the remote-assigned id verbatim;
// updates overwrite every mutable field: on pull the remote copy is
// authoritative and local edits lose (last writer wins, no timestamp merge).

type idCarrier interface {
	RecordID() string
}

// upsertPulled writes one record. Records without an id cannot be
// deduplicated and are skipped with a warning.
func upsertPulled[T idCarrier](ctx context.Context, db *gorm.DB, log *logrus.Logger, kind string, record T) error {
	id := strings.TrimSpace(record.RecordID())
	if id == "" {
		config.LogWarn(log, "backendsync", "upsertPulled", kind, "skipping pulled record without id")
		return nil
	}

	var existing T
	var count int64
	if err := db.WithContext(ctx).Model(&existing).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return db.WithContext(ctx).Create(&record).Error
	}
	return db.WithContext(ctx).Model(&existing).Where("id = ?", id).Select("*").
		Omit("created_at").Updates(&record).Error
}

// applyPulled reconciles a batch, reporting one result per record in input
// order. Per-record failures are logged but never abort the batch.
func applyPulled[T idCarrier](ctx context.Context, e *Engine, kind string, records []T) (int, []ItemResult) {
	applied := 0
	items := make([]ItemResult, 0, len(records))
	for _, record := range records {
		if err := upsertPulled(ctx, e.db, e.log, kind, record); err != nil {
			config.LogError(e.log, "backendsync", "applyPulled", kind, record.RecordID(), err)
			items = append(items, ItemResult{ID: record.RecordID(), Error: err.Error()})
			continue
		}
		applied++
		items = append(items, ItemResult{ID: record.RecordID(), Success: true})
	}
	return applied, items
}
