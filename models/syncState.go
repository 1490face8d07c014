package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SyncDirectionPush = "push"
	SyncDirectionPull = "pull"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusPartial = "partial"
	SyncRunStatusFailed  = "failed"
)

// SyncState is the single durable output of a sync invocation. One row,
// fixed primary key.
type SyncState struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	PendingChanges int        `gorm:"default:0" json:"pending_changes"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRun is the per-invocation audit row.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	RunID         string     `gorm:"index;size:64;not null" json:"run_id"`
	EmployeeID    string     `gorm:"index;size:64" json:"employee_id"`
	Direction     string     `gorm:"size:10;not null" json:"direction"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

type SyncRunError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	SyncRunID  uint      `gorm:"index;not null" json:"sync_run_id"`
	EntityKind string    `gorm:"size:50" json:"entity_kind"`
	RecordID   string    `gorm:"size:64" json:"record_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PendingOperation is the offline write queue: writes made while disconnected,
// drained oldest-first to the backend before any pull so local edits and
// deletes are not clobbered by the reconciliation pass.
type PendingOperation struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	OperationKind string    `gorm:"size:20;not null" json:"operation_kind"`
	EntityKind    string    `gorm:"size:50;not null" json:"entity_kind"`
	PayloadJSON   []byte    `gorm:"type:json" json:"payload"`
	EnqueuedAt    time.Time `gorm:"autoCreateTime" json:"enqueued_at"`
}

const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

// Migrate creates every table the engine touches.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Employee{},
		&MileageEntry{},
		&Receipt{},
		&TimeTrackingEntry{},
		&DailyDescription{},
		&SyncState{},
		&SyncRun{},
		&SyncRunError{},
		&PendingOperation{},
	)
}

func GetSyncState(ctx context.Context, db *gorm.DB) (*SyncState, error) {
	var state SyncState
	err := db.WithContext(ctx).Where("id = ?", 1).Take(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = SyncState{ID: 1}
			if err := db.WithContext(ctx).Create(&state).Error; err != nil {
				return nil, err
			}
			return &state, nil
		}
		return nil, err
	}
	return &state, nil
}

func MarkSyncComplete(ctx context.Context, db *gorm.DB, at time.Time) error {
	state, err := GetSyncState(ctx, db)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Model(state).Updates(map[string]interface{}{
		"last_sync_at":    at,
		"pending_changes": 0,
	}).Error
}

// TouchLastSync advances the sync watermark without touching the pending
// counter; the pull path uses it because a pull completes regardless of
// per-record failures.
func TouchLastSync(ctx context.Context, db *gorm.DB, at time.Time) error {
	state, err := GetSyncState(ctx, db)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Model(state).Update("last_sync_at", at).Error
}

func BumpPendingChanges(ctx context.Context, db *gorm.DB, delta int) error {
	state, err := GetSyncState(ctx, db)
	if err != nil {
		return err
	}
	next := state.PendingChanges + delta
	if next < 0 {
		next = 0
	}
	return db.WithContext(ctx).Model(state).Update("pending_changes", next).Error
}
