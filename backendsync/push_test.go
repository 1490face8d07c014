package backendsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
)

type recordingNotifier struct {
	mu       sync.Mutex
	receipts []string
}

func (n *recordingNotifier) MissingReceiptImage(employeeId, receiptId, vendor string, amount decimal.Decimal, date time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, receiptId)
}

func TestPushMileageEntriesIsolatesItemFailures(t *testing.T) {
	var mu sync.Mutex
	var pushedIds []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/mileage-entries/")
		if id == "m-2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Lock()
		pushedIds = append(pushedIds, id)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	seedEmployee(t, engine, "loc-1", "A", "")

	day := time.Date(2025, 9, 3, 0, 0, 0, 0, time.Local)
	entries := []models.MileageEntry{
		{ID: "m-1", EmployeeID: "loc-1", EntryDate: day},
		{ID: "m-2", EmployeeID: "loc-1", EntryDate: day},
		{ID: "m-3", EmployeeID: "loc-1", EntryDate: day},
	}

	result := engine.pushMileageEntries(context.Background(), entries)
	if result.Success {
		t.Fatal("batch with a failed item must not report success")
	}
	if len(result.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(result.Items))
	}
	for i, want := range []bool{true, false, true} {
		if result.Items[i].Success != want {
			t.Fatalf("item %d success = %v, want %v", i, result.Items[i].Success, want)
		}
	}
	if len(pushedIds) != 2 {
		t.Fatalf("server accepted %d entries, want 2", len(pushedIds))
	}
}

func TestPushSerializesDatesAtMiddayUTC(t *testing.T) {
	var gotEntryDate string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if v, ok := body["entryDate"].(string); ok {
			gotEntryDate = v
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	seedEmployee(t, engine, "loc-1", "A", "")

	day := time.Date(2025, 9, 3, 23, 30, 0, 0, time.Local)
	engine.pushTimeEntries(context.Background(), []models.TimeTrackingEntry{
		{ID: "t-1", EmployeeID: "loc-1", EntryDate: day, Hours: decimal.NewFromInt(8)},
	})

	if !strings.HasPrefix(gotEntryDate, "2025-09-03T12:00:00") {
		t.Fatalf("entryDate = %q, want midday of 2025-09-03", gotEntryDate)
	}
	if !strings.HasSuffix(gotEntryDate, "Z") {
		t.Fatalf("entryDate = %q, want UTC", gotEntryDate)
	}
}

func TestPushOneRejectsInvalidRecordWithoutNetworkCall(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	var result SyncResult
	engine.pushOne(context.Background(), apiPathTimeEntries, "", timeEntryWire{Hours: "8"}, &result)

	if calls != 0 {
		t.Fatalf("server saw %d calls, want 0", calls)
	}
	if len(result.Items) != 1 || result.Items[0].Success {
		t.Fatalf("result = %+v, want one failed item", result.Items)
	}
	if !strings.Contains(result.Items[0].Error, "required") {
		t.Fatalf("error %q does not name the missing fields", result.Items[0].Error)
	}
}

func TestPushEmployeeUpsertsUnderBackendId(t *testing.T) {
	var putPath string
	var putBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/employees":
			w.Write([]byte(`{"data":[{"id":"be-8","email":"kim@example.com"}]}`))
		case r.Method == http.MethodPut:
			putPath = r.URL.Path
			json.NewDecoder(r.Body).Decode(&putBody)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	seedEmployee(t, engine, "loc-8", "Kim", "kim@example.com")

	emp, err := models.GetEmployeeById(context.Background(), engine.db, "loc-8")
	if err != nil {
		t.Fatalf("load employee: %v", err)
	}
	result := engine.pushEmployee(context.Background(), *emp)
	if !result.Success {
		t.Fatalf("push failed: %s", result.Error)
	}
	if putPath != "/v1/employees/be-8" {
		t.Fatalf("employee upserted at %q, want the backend-canonical /v1/employees/be-8", putPath)
	}
	if putBody["id"] != "be-8" {
		t.Fatalf("payload id = %v, want be-8", putBody["id"])
	}
}

func TestPushSurfacesRateLimitMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	seedEmployee(t, engine, "loc-1", "A", "")

	result := engine.pushEmployee(context.Background(), models.Employee{ID: "loc-1", Name: "A"})
	if result.Success {
		t.Fatal("rate limited push must not succeed")
	}
	if !strings.Contains(result.Error, "rate limit") {
		t.Fatalf("error %q does not mention the rate limit", result.Error)
	}
}

func TestSyncReceiptImageSkipsCanonicalReferences(t *testing.T) {
	var uploadCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/images") {
			uploadCalls++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	receipt := models.Receipt{ID: "r-1", EmployeeID: "loc-1", ImageURI: "/uploads/r-1.jpg"}
	engine.syncReceiptImage(context.Background(), &receipt)

	if uploadCalls != 0 {
		t.Fatalf("upload calls = %d, want 0 for an already-canonical uri", uploadCalls)
	}
	if receipt.ImageURI != "/uploads/r-1.jpg" {
		t.Fatalf("image uri changed to %q", receipt.ImageURI)
	}
}

func TestSyncReceiptImageUploadsBareDevicePaths(t *testing.T) {
	var uploadCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/images") {
			uploadCalls++
			json.NewEncoder(w).Encode(map[string]string{"path": "/uploads/r-5.jpg"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)

	local := filepath.Join(t.TempDir(), "r-5.jpg")
	if err := os.WriteFile(local, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	receipt := models.Receipt{ID: "r-5", EmployeeID: "loc-1", ReceiptDate: engine.now(), ImageURI: local}
	if err := engine.db.Create(&receipt).Error; err != nil {
		t.Fatalf("seed receipt: %v", err)
	}

	engine.syncReceiptImage(context.Background(), &receipt)

	if uploadCalls != 1 {
		t.Fatalf("upload calls = %d, want 1 for a scheme-less device path", uploadCalls)
	}
	if receipt.ImageURI != "/uploads/r-5.jpg" {
		t.Fatalf("image uri = %q, want canonical path", receipt.ImageURI)
	}
}

func TestSyncReceiptImageMissingFileNotifiesAndKeepsReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := &recordingNotifier{}
	engine, err := NewEngine(newTestDB(t), testConfig(server.URL), quietLogger(), notifier)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "gone.jpg")
	receipt := models.Receipt{
		ID:          "r-2",
		EmployeeID:  "loc-1",
		ReceiptDate: engine.now(),
		Vendor:      "Cafe",
		Amount:      decimal.NewFromFloat(12.50),
		ImageURI:    missing,
	}
	if err := engine.db.Create(&receipt).Error; err != nil {
		t.Fatalf("seed receipt: %v", err)
	}

	engine.syncReceiptImage(context.Background(), &receipt)

	if receipt.ImageURI != missing {
		t.Fatalf("image uri changed to %q, local reference must survive", receipt.ImageURI)
	}
	if len(notifier.receipts) != 1 || notifier.receipts[0] != "r-2" {
		t.Fatalf("notifications = %v, want [r-2]", notifier.receipts)
	}
}

func TestSyncReceiptImageSkipsNotificationForPastMonths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := &recordingNotifier{}
	engine, err := NewEngine(newTestDB(t), testConfig(server.URL), quietLogger(), notifier)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	receipt := models.Receipt{
		ID:          "r-3",
		EmployeeID:  "loc-1",
		ReceiptDate: engine.now().AddDate(0, -2, 0),
		ImageURI:    filepath.Join(t.TempDir(), "gone.jpg"),
	}
	if err := engine.db.Create(&receipt).Error; err != nil {
		t.Fatalf("seed receipt: %v", err)
	}

	engine.syncReceiptImage(context.Background(), &receipt)
	if len(notifier.receipts) != 0 {
		t.Fatalf("notifications = %v, want none for a historical receipt", notifier.receipts)
	}
}

func TestSyncReceiptImageSuccessPersistsCanonicalURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/images") {
			json.NewEncoder(w).Encode(map[string]string{"path": "/uploads/2025/r-4.jpg"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)

	local := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(local, []byte("not really a jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	receipt := models.Receipt{ID: "r-4", EmployeeID: "loc-1", ReceiptDate: engine.now(), ImageURI: local}
	if err := engine.db.Create(&receipt).Error; err != nil {
		t.Fatalf("seed receipt: %v", err)
	}

	engine.syncReceiptImage(context.Background(), &receipt)

	if receipt.ImageURI != "/uploads/2025/r-4.jpg" {
		t.Fatalf("image uri = %q, want canonical path", receipt.ImageURI)
	}
	var stored models.Receipt
	if err := engine.db.Where("id = ?", "r-4").Take(&stored).Error; err != nil {
		t.Fatalf("reload receipt: %v", err)
	}
	if stored.ImageURI != "/uploads/2025/r-4.jpg" {
		t.Fatalf("stored image uri = %q, want canonical path", stored.ImageURI)
	}
}
