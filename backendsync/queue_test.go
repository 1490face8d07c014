package backendsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
)

func TestEnqueueRejectsUnknownKinds(t *testing.T) {
	db := newTestDB(t)
	if err := Enqueue(context.Background(), db, models.OperationUpsert, "invoice", map[string]string{"id": "x"}); err == nil {
		t.Fatal("expected error for unknown entity kind")
	}
	if err := Enqueue(context.Background(), db, "merge", models.KindReceipt, map[string]string{"id": "x"}); err == nil {
		t.Fatal("expected error for unknown operation kind")
	}
}

func TestEnqueueBumpsPendingCounter(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		if err := Enqueue(context.Background(), db, models.OperationUpsert, models.KindReceipt, map[string]string{"id": "r-1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	state, err := models.GetSyncState(context.Background(), db)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.PendingChanges != 3 {
		t.Fatalf("pending changes = %d, want 3", state.PendingChanges)
	}
}

func TestDrainQueueReplaysInEnqueueOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	ctx := context.Background()
	if err := Enqueue(ctx, engine.db, models.OperationUpsert, models.KindReceipt, map[string]string{"id": "r-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := Enqueue(ctx, engine.db, models.OperationDelete, models.KindReceipt, map[string]string{"id": "r-2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := Enqueue(ctx, engine.db, models.OperationUpsert, models.KindTimeEntry, map[string]string{"id": "t-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := engine.drainQueue(ctx); err != nil {
		t.Fatalf("drainQueue: %v", err)
	}

	want := []string{
		"PUT /v1/receipts/r-1",
		"DELETE /v1/receipts/r-2",
		"PUT /v1/time-entries/t-1",
	}
	if len(seen) != len(want) {
		t.Fatalf("requests = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d = %q, want %q", i, seen[i], want[i])
		}
	}

	var remaining int64
	engine.db.Model(&models.PendingOperation{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("remaining queue rows = %d, want 0", remaining)
	}
}

func TestDrainQueueStopsAtFirstHardFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/r-2") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	ctx := context.Background()
	for _, id := range []string{"r-1", "r-2", "r-3"} {
		if err := Enqueue(ctx, engine.db, models.OperationUpsert, models.KindReceipt, map[string]string{"id": id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := engine.drainQueue(ctx); err == nil {
		t.Fatal("expected drain to stop with an error")
	}

	// r-1 is gone, r-2 and r-3 wait for the next pass in order.
	var remaining []models.PendingOperation
	engine.db.Order("enqueued_at, id").Find(&remaining)
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d rows, want 2", len(remaining))
	}
}

func TestDrainQueueTreatsDeleteOfMissingRecordAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	ctx := context.Background()
	if err := Enqueue(ctx, engine.db, models.OperationDelete, models.KindReceipt, map[string]string{"id": "r-9"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := engine.drainQueue(ctx); err != nil {
		t.Fatalf("drainQueue: %v", err)
	}
	var remaining int64
	engine.db.Model(&models.PendingOperation{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0; a 404 delete is already applied", remaining)
	}
}

func TestDrainQueueDropsMalformedOperations(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	ctx := context.Background()

	// Payload without an id cannot be replayed; it must be dropped, not wedge
	// the queue.
	op := models.PendingOperation{
		OperationKind: models.OperationUpsert,
		EntityKind:    models.KindReceipt,
		PayloadJSON:   []byte(`{"vendor":"Cafe"}`),
	}
	if err := engine.db.Create(&op).Error; err != nil {
		t.Fatalf("seed op: %v", err)
	}

	if err := engine.drainQueue(ctx); err != nil {
		t.Fatalf("drainQueue: %v", err)
	}
	if calls != 0 {
		t.Fatalf("server saw %d calls, want 0", calls)
	}
	var remaining int64
	engine.db.Model(&models.PendingOperation{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
}

func TestTranslateQueuedPayloadRewritesEmployeeId(t *testing.T) {
	engine := newTestEngine(t, "http://localhost:1")
	engine.cacheIdentity("loc-1", "be-1")

	out, err := engine.translateQueuedPayload(context.Background(),
		[]byte(`{"id":"r-1","employeeId":"loc-1","vendor":"Cafe"}`), "loc-1")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !strings.Contains(string(out), `"be-1"`) {
		t.Fatalf("payload = %s, employee id not rewritten", out)
	}
	if !strings.Contains(string(out), `"Cafe"`) {
		t.Fatalf("payload = %s, other fields must survive", out)
	}
}
