package sync

import (
	"github.com/kwachira/wildtrack/internal/db"
	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/logging"
	"github.com/kwachira/wildtrack/internal/models"
)

// RetryCoordinator resets failed ledger entries to a retryable state.
// Retry only touches ledger bookkeeping; the original payload is not
// replayed. A reset item is actually re-synced when the device re-uploads
// the same local_id.
type RetryCoordinator struct {
	repo *db.Repository
}

// NewRetryCoordinator creates a new RetryCoordinator.
func NewRetryCoordinator(repo *db.Repository) *RetryCoordinator {
	return &RetryCoordinator{repo: repo}
}

// RetryAll resets every failed ledger entry owned by the user to pending
// with zeroed attempts and a cleared error. Returns the count transitioned.
func (c *RetryCoordinator) RetryAll(userID string) (int, error) {
	count, err := c.repo.ResetFailedItems(userID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logging.Info("reset failed items for retry", map[string]interface{}{
			"user_id": userID, "count": count,
		})
	}
	return count, nil
}

// RetryOne resets a single failed ledger entry. Returns an INVALID_STATE
// AppError, with no state mutated, if the item is not in failed status;
// NOT_FOUND if the item does not exist for this user.
func (c *RetryCoordinator) RetryOne(userID, itemID string) (*models.QueueItem, error) {
	item, err := c.repo.GetQueueItem(userID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "item not found")
	}
	if item.Status != models.StatusFailed {
		return nil, apperrors.New(apperrors.ErrInvalidState, "item is not in failed status")
	}

	if err := c.repo.ResetItem(userID, itemID); err != nil {
		return nil, err
	}
	return c.repo.GetQueueItem(userID, itemID)
}
