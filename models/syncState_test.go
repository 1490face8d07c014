package models

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestGetSyncStateCreatesSingletonRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	state, err := GetSyncState(ctx, db)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if state.LastSyncAt != nil {
		t.Fatal("fresh state must have no sync timestamp")
	}
	if state.PendingChanges != 0 {
		t.Fatalf("pending changes = %d, want 0", state.PendingChanges)
	}

	again, err := GetSyncState(ctx, db)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if again.ID != state.ID {
		t.Fatalf("second read created a new row: %d vs %d", again.ID, state.ID)
	}
	var count int64
	db.Model(&SyncState{}).Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want exactly one", count)
	}
}

func TestMarkSyncCompleteResetsPendingChanges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := BumpPendingChanges(ctx, db, 5); err != nil {
		t.Fatalf("bump: %v", err)
	}
	at := time.Now()
	if err := MarkSyncComplete(ctx, db, at); err != nil {
		t.Fatalf("mark complete: %v", err)
	}

	state, err := GetSyncState(ctx, db)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.PendingChanges != 0 {
		t.Fatalf("pending changes = %d, want 0", state.PendingChanges)
	}
	if state.LastSyncAt == nil {
		t.Fatal("last sync timestamp not set")
	}
}

func TestTouchLastSyncKeepsPendingChanges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := BumpPendingChanges(ctx, db, 2); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if err := TouchLastSync(ctx, db, time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}

	state, err := GetSyncState(ctx, db)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.PendingChanges != 2 {
		t.Fatalf("pending changes = %d, want untouched 2", state.PendingChanges)
	}
	if state.LastSyncAt == nil {
		t.Fatal("last sync timestamp not set")
	}
}

func TestBumpPendingChangesFloorsAtZero(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := BumpPendingChanges(ctx, db, 1); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if err := BumpPendingChanges(ctx, db, -5); err != nil {
		t.Fatalf("bump down: %v", err)
	}
	state, err := GetSyncState(ctx, db)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.PendingChanges != 0 {
		t.Fatalf("pending changes = %d, want floored 0", state.PendingChanges)
	}
}

