package sync

import (
	"testing"

	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/models"
)

// TestRetryAll verifies every failed entry is reset to pending and the
// count reported.
func TestRetryAll(t *testing.T) {
	repo, rec := setupTestReconciler(t)
	coord := NewRetryCoordinator(repo)

	// Two failures and one success on the ledger
	_, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"local_id":"bad1","species":"elephant"}`,
		`{"local_id":"bad2","name":"x"}`,
		`{"local_id":"good1","name":"amboseli-7","species":"elephant"}`,
	))
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	count, err := coord.RetryAll("user-1")
	if err != nil {
		t.Fatalf("RetryAll() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("RetryAll() = %d, want 2", count)
	}

	pending, err := repo.ListQueueItemsByStatus("user-1", models.StatusPending)
	if err != nil {
		t.Fatalf("ListQueueItemsByStatus() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending entries, got %d", len(pending))
	}
	for _, item := range pending {
		if item.Attempts != 0 {
			t.Errorf("Item %s attempts = %d, want 0", item.LocalID, item.Attempts)
		}
		if item.ErrorMessage != "" {
			t.Errorf("Item %s error not cleared: %q", item.LocalID, item.ErrorMessage)
		}
	}

	// Completed entries are never touched
	completed, err := repo.ListQueueItemsByStatus("user-1", models.StatusCompleted)
	if err != nil {
		t.Fatalf("ListQueueItemsByStatus() failed: %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("Expected 1 completed entry, got %d", len(completed))
	}
}

// TestRetryAll_empty verifies the zero-failure case.
func TestRetryAll_empty(t *testing.T) {
	repo := setupTestRepo(t)
	coord := NewRetryCoordinator(repo)

	count, err := coord.RetryAll("user-1")
	if err != nil {
		t.Fatalf("RetryAll() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("RetryAll() = %d, want 0", count)
	}
}

// TestRetryOne verifies a single failed entry is reset and returned.
func TestRetryOne(t *testing.T) {
	repo, rec := setupTestReconciler(t)
	coord := NewRetryCoordinator(repo)

	if _, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"local_id":"bad1","species":"elephant"}`,
	)); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	failed, err := repo.ListQueueItemsByStatus("user-1", models.StatusFailed)
	if err != nil || len(failed) != 1 {
		t.Fatalf("Expected 1 failed entry, got %d (%v)", len(failed), err)
	}

	item, err := coord.RetryOne("user-1", string(failed[0].ID))
	if err != nil {
		t.Fatalf("RetryOne() failed: %v", err)
	}
	if item.Status != models.StatusPending {
		t.Errorf("Status = %s, want pending", item.Status)
	}
	if item.Attempts != 0 || item.ErrorMessage != "" {
		t.Errorf("Bookkeeping not reset: attempts=%d error=%q", item.Attempts, item.ErrorMessage)
	}
}

// TestRetryOne_notFailed verifies retrying a completed entry is rejected
// with no state mutated.
func TestRetryOne_notFailed(t *testing.T) {
	repo, rec := setupTestReconciler(t)
	coord := NewRetryCoordinator(repo)

	if _, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"local_id":"good1","name":"amboseli-7","species":"elephant"}`,
	)); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	items, err := repo.ListQueueItems("user-1")
	if err != nil || len(items) != 1 {
		t.Fatalf("Expected 1 ledger entry, got %d (%v)", len(items), err)
	}

	_, err = coord.RetryOne("user-1", string(items[0].ID))
	if !apperrors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("err = %v, want INVALID_STATE", err)
	}

	// Entry unchanged
	after, err := repo.GetQueueItem("user-1", string(items[0].ID))
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if after.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want completed (unchanged)", after.Status)
	}
}

// TestRetryOne_notFound verifies an unknown item yields NOT_FOUND, as does
// another user's item.
func TestRetryOne_notFound(t *testing.T) {
	repo, rec := setupTestReconciler(t)
	coord := NewRetryCoordinator(repo)

	if _, err := coord.RetryOne("user-1", "nonexistent"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}

	if _, err := rec.Reconcile("user-1", "device-1", models.DataTypeAnimal, rawRecords(
		`{"local_id":"bad1","species":"elephant"}`,
	)); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	failed, _ := repo.ListQueueItemsByStatus("user-1", models.StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed entry, got %d", len(failed))
	}

	if _, err := coord.RetryOne("user-2", string(failed[0].ID)); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Cross-user retry err = %v, want NOT_FOUND", err)
	}
}
