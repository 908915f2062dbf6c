package sync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/kwachira/wildtrack/internal/db"
	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/models"
	"github.com/kwachira/wildtrack/internal/records"
	"github.com/kwachira/wildtrack/migrations"
)

func setupTestRepo(t *testing.T) *db.Repository {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if err := db.NewMigrator(conn, migrations.FS).Up(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	repo := db.NewRepository(conn)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func setupTestReconciler(t *testing.T) (*db.Repository, *Reconciler) {
	t.Helper()
	repo := setupTestRepo(t)
	tracking := records.NewTrackingService(repo)
	creators := map[models.DataType]Creator{
		models.DataTypeAnimal:      records.NewAnimalService(repo),
		models.DataTypeTracking:    tracking,
		models.DataTypeObservation: records.NewObservationService(repo),
	}
	return repo, NewReconciler(repo, creators, tracking)
}

func rawRecords(records ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		out = append(out, json.RawMessage(r))
	}
	return out
}

// TestReconcile_syncsNewRecords verifies a clean batch of new records is
// fully committed.
func TestReconcile_syncsNewRecords(t *testing.T) {
	repo, rec := setupTestReconciler(t)

	result, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"local_id":"a1","name":"amboseli-7","species":"elephant"}`,
		`{"local_id":"a2","name":"amboseli-8","species":"elephant"}`,
	))
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Synced != 2 || result.Failed != 0 || result.Conflicts != 0 {
		t.Errorf("Result = %d/%d/%d, want 2 synced", result.Synced, result.Failed, result.Conflicts)
	}

	items, err := repo.ListQueueItems("user-1")
	if err != nil {
		t.Fatalf("ListQueueItems() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 ledger entries, got %d", len(items))
	}
	for _, item := range items {
		if item.Status != models.StatusCompleted {
			t.Errorf("Item %s status = %s, want completed", item.LocalID, item.Status)
		}
		if item.ServerID == "" {
			t.Errorf("Item %s has no server_id", item.LocalID)
		}
	}
}

// TestReconcile_idempotentReupload verifies the same batch uploaded twice
// yields synced on the first pass and conflicts on the second, with no
// duplicate entities created.
func TestReconcile_idempotentReupload(t *testing.T) {
	repo, rec := setupTestReconciler(t)

	batch := rawRecords(`{"local_id":"t1","animal":"a1","lat":-2.5,"lon":37.5,"timestamp":1700000000}`)

	first, err := rec.Reconcile("user-1", "device-1", models.DataTypeTracking, batch)
	if err != nil {
		t.Fatalf("First Reconcile() failed: %v", err)
	}
	if first.Synced != 1 {
		t.Fatalf("First pass synced = %d, want 1", first.Synced)
	}

	second, err := rec.Reconcile("user-1", "device-1", models.DataTypeTracking, batch)
	if err != nil {
		t.Fatalf("Second Reconcile() failed: %v", err)
	}
	if second.Conflicts != 1 || second.Synced != 0 {
		t.Errorf("Second pass = %d synced, %d conflicts, want 0/1", second.Synced, second.Conflicts)
	}

	items, err := repo.ListQueueItems("user-1")
	if err != nil {
		t.Fatalf("ListQueueItems() failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected a single ledger entry after re-upload, got %d", len(items))
	}
}

// TestReconcile_naturalKeyConflict verifies two devices reporting the same
// physical fix under different local_ids collide on the natural key.
func TestReconcile_naturalKeyConflict(t *testing.T) {
	_, rec := setupTestReconciler(t)

	first, err := rec.Reconcile("user-1", "device-1", models.DataTypeTracking, rawRecords(
		`{"local_id":"dev1-t1","animal":"a1","lat":-2.5,"lon":37.5,"timestamp":1700000000}`,
	))
	if err != nil {
		t.Fatalf("First Reconcile() failed: %v", err)
	}
	if first.Synced != 1 {
		t.Fatalf("First device synced = %d, want 1", first.Synced)
	}

	second, err := rec.Reconcile("user-1", "device-2", models.DataTypeTracking, rawRecords(
		`{"local_id":"dev2-t9","animal":"a1","lat":-2.5,"lon":37.5,"timestamp":1700000000}`,
	))
	if err != nil {
		t.Fatalf("Second Reconcile() failed: %v", err)
	}
	if second.Conflicts != 1 || second.Synced != 0 {
		t.Errorf("Second device = %d synced, %d conflicts, want 0/1", second.Synced, second.Conflicts)
	}
}

// TestReconcile_validationFailureIsolation verifies an invalid record fails
// alone: the rest of the batch still commits and the failure is persisted
// to the ledger.
func TestReconcile_validationFailureIsolation(t *testing.T) {
	repo, rec := setupTestReconciler(t)

	result, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"local_id":"bad1","species":"elephant"}`,
		`{"local_id":"good1","name":"amboseli-7","species":"elephant"}`,
	))
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Synced != 1 || result.Failed != 1 {
		t.Errorf("Result = %d synced, %d failed, want 1/1", result.Synced, result.Failed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected 1 structured error, got %d", len(result.Errors))
	}
	if result.Errors[0].LocalID != "bad1" {
		t.Errorf("Error local_id = %s, want bad1", result.Errors[0].LocalID)
	}

	failed, err := repo.ListQueueItemsByStatus("user-1", models.StatusFailed)
	if err != nil {
		t.Fatalf("ListQueueItemsByStatus() failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed ledger entry, got %d", len(failed))
	}
	if failed[0].LocalID != "bad1" || failed[0].ErrorMessage == "" {
		t.Errorf("Failed entry = %s (%q), want bad1 with error message", failed[0].LocalID, failed[0].ErrorMessage)
	}
}

// TestReconcile_missingIdentifiers verifies a record carrying neither
// local_id nor id is failed without touching storage.
func TestReconcile_missingIdentifiers(t *testing.T) {
	repo, rec := setupTestReconciler(t)

	result, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"name":"no-key","species":"elephant"}`,
	))
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Failed != 1 || result.Synced != 0 {
		t.Errorf("Result = %d synced, %d failed, want 0/1", result.Synced, result.Failed)
	}

	items, err := repo.ListQueueItems("user-1")
	if err != nil {
		t.Fatalf("ListQueueItems() failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no ledger entries for a keyless record, got %d", len(items))
	}
}

// TestReconcile_idFallback verifies a record with only id still derives an
// idempotency key.
func TestReconcile_idFallback(t *testing.T) {
	_, rec := setupTestReconciler(t)

	batch := rawRecords(`{"id":"srv-1","name":"amboseli-7","species":"elephant"}`)

	first, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, batch)
	if err != nil {
		t.Fatalf("First Reconcile() failed: %v", err)
	}
	if first.Synced != 1 {
		t.Fatalf("First pass synced = %d, want 1", first.Synced)
	}

	second, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, batch)
	if err != nil {
		t.Fatalf("Second Reconcile() failed: %v", err)
	}
	if second.Conflicts != 1 {
		t.Errorf("Second pass conflicts = %d, want 1", second.Conflicts)
	}
}

// TestReconcile_reuploadAfterFailure verifies a fixed record re-uploaded
// under the same local_id transitions its failed ledger entry to completed.
func TestReconcile_reuploadAfterFailure(t *testing.T) {
	repo, rec := setupTestReconciler(t)

	bad := rawRecords(`{"local_id":"a1","species":"elephant"}`)
	if result, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, bad); err != nil || result.Failed != 1 {
		t.Fatalf("Bad upload = %+v, %v, want 1 failed", result, err)
	}

	good := rawRecords(`{"local_id":"a1","name":"amboseli-7","species":"elephant"}`)
	result, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, good)
	if err != nil {
		t.Fatalf("Re-upload failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("Re-upload synced = %d, want 1", result.Synced)
	}

	items, err := repo.ListQueueItems("user-1")
	if err != nil {
		t.Fatalf("ListQueueItems() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected the failed entry to transition in place, got %d entries", len(items))
	}
	if items[0].Status != models.StatusCompleted {
		t.Errorf("Status = %s, want completed", items[0].Status)
	}
	if items[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", items[0].Attempts)
	}
	if items[0].ErrorMessage != "" {
		t.Errorf("Error message not cleared: %q", items[0].ErrorMessage)
	}
}

// TestReconcile_unknownDataType verifies an unregistered data type is
// rejected outright.
func TestReconcile_unknownDataType(t *testing.T) {
	_, rec := setupTestReconciler(t)

	_, err := rec.Reconcile("user-1", "device-1", models.DataTypePrediction, rawRecords(`{"local_id":"p1"}`))
	if !apperrors.Is(err, apperrors.ErrInternal) {
		t.Errorf("err = %v, want INTERNAL_ERROR", err)
	}
}

// TestReconcile_largeBatch exercises per-item classification across a mixed
// batch in a single pass.
func TestReconcile_largeBatch(t *testing.T) {
	_, rec := setupTestReconciler(t)

	var batch []json.RawMessage
	for i := 0; i < 50; i++ {
		batch = append(batch, json.RawMessage(fmt.Sprintf(
			`{"local_id":"t%d","animal":"a1","lat":-2.5,"lon":%0.4f,"timestamp":%d}`,
			i, 37.5+float64(i)/1000, 1700000000+int64(i))))
	}
	// Two invalid records mixed in
	batch = append(batch,
		json.RawMessage(`{"local_id":"badlat","animal":"a1","lat":95,"lon":37.5,"timestamp":1700000100}`),
		json.RawMessage(`{"local_id":"nots","animal":"a1","lat":-2.5,"lon":37.9}`),
	)

	result, err := rec.Reconcile("user-1", "device-1", models.DataTypeTracking, batch)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Synced != 50 {
		t.Errorf("Synced = %d, want 50", result.Synced)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	if result.Total() != 52 {
		t.Errorf("Total() = %d, want 52", result.Total())
	}
}
