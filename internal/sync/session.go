package sync

import (
	"time"

	"github.com/kwachira/wildtrack/internal/db"
	"github.com/kwachira/wildtrack/internal/logging"
	"github.com/kwachira/wildtrack/internal/models"
)

// SessionManager owns the OPEN -> CLOSED lifecycle of sync sessions.
// A session is created at batch entry with zeroed counters, accumulates
// per-type results while the batch is processed, and is immutable after
// closure.
type SessionManager struct {
	repo *db.Repository
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(repo *db.Repository) *SessionManager {
	return &SessionManager{repo: repo}
}

// Open creates a session for a batch with all counters zero.
func (m *SessionManager) Open(userID, deviceID string) (*models.SyncSession, error) {
	session := &models.SyncSession{
		UserID:   userID,
		DeviceID: deviceID,
	}
	if err := m.repo.CreateSession(session); err != nil {
		return nil, err
	}
	logging.Info("sync session opened", map[string]interface{}{
		"session_id": session.ID, "device_id": deviceID,
	})
	return session, nil
}

// Fold accumulates one data type's reconciliation result into the
// session's running totals.
func (m *SessionManager) Fold(session *models.SyncSession, result *TypeResult) {
	session.TotalItems += result.Total()
	session.SyncedItems += result.Synced
	session.ConflictItems += result.Conflicts
	session.FailedItems += result.Failed
}

// Close finalizes a session after normal batch completion: completed_at is
// set, the duration derived and final totals persisted.
func (m *SessionManager) Close(session *models.SyncSession) error {
	now := time.Now().Unix()
	session.CompletedAt = now
	session.DurationSeconds = float64(now - session.StartedAt)

	if err := m.repo.UpdateSession(session); err != nil {
		return err
	}
	logging.Info("sync session closed", map[string]interface{}{
		"session_id": session.ID,
		"total":      session.TotalItems,
		"synced":     session.SyncedItems,
		"conflicts":  session.ConflictItems,
		"failed":     session.FailedItems,
		"duration_s": session.DurationSeconds,
	})
	return nil
}

// CloseFailed closes a session after an unhandled processing error. The
// closure is coarse: every item enumerated before the error is marked
// failed so the audit trail keeps the session invariant intact, even though
// some of those items may already have committed.
func (m *SessionManager) CloseFailed(session *models.SyncSession, itemsSeen int) error {
	now := time.Now().Unix()
	session.CompletedAt = now
	session.DurationSeconds = float64(now - session.StartedAt)
	session.TotalItems = itemsSeen
	session.SyncedItems = 0
	session.ConflictItems = 0
	session.FailedItems = itemsSeen

	if err := m.repo.UpdateSession(session); err != nil {
		return err
	}
	logging.Warn("sync session closed after processing error", map[string]interface{}{
		"session_id": session.ID, "items_seen": itemsSeen,
	})
	return nil
}
