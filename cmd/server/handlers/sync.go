// Package handlers provides REST API handlers for bulk sync, retry and
// read-side sync endpoints.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/logging"
	"github.com/kwachira/wildtrack/internal/models"
	"github.com/kwachira/wildtrack/internal/sync"
)

// WSSyncBroadcaster is the WebSocket event surface for sync lifecycle
// notifications. A nil broadcaster disables events.
type WSSyncBroadcaster interface {
	BroadcastSyncStarted(deviceID string)
	BroadcastSyncCompleted(sessionID string, synced, conflicts, failed int, duration time.Duration)
	BroadcastSyncFailed(sessionID string, detail string)
}

// SyncHandler handles bulk uploads, retries and sync read endpoints.
type SyncHandler struct {
	sessions      *sync.SessionManager
	reconciler    *sync.Reconciler
	retry         *sync.RetryCoordinator
	stats         *sync.StatsAggregator
	maxBatchItems int
	wsHub         WSSyncBroadcaster
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(sessions *sync.SessionManager, reconciler *sync.Reconciler, retry *sync.RetryCoordinator, stats *sync.StatsAggregator, maxBatchItems int) *SyncHandler {
	return &SyncHandler{
		sessions:      sessions,
		reconciler:    reconciler,
		retry:         retry,
		stats:         stats,
		maxBatchItems: maxBatchItems,
	}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting sync events.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// userID extracts the authenticated caller from the request. Authentication
// itself happens upstream; the gateway injects X-User-ID.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// bulkSyncRequest is the JSON body of POST /api/sync/bulk. The per-type
// record shapes are owned by the record collaborators; the handler treats
// them as opaque.
type bulkSyncRequest struct {
	DeviceID     string            `json:"device_id"`
	Animals      []json.RawMessage `json:"animals"`
	Tracking     []json.RawMessage `json:"tracking"`
	Observations []json.RawMessage `json:"observations"`
}

func (b *bulkSyncRequest) totalItems() int {
	return len(b.Animals) + len(b.Tracking) + len(b.Observations)
}

// typeBucket pairs a data type with its submitted record array, preserving
// processing order.
type typeBucket struct {
	dataType models.DataType
	records  []json.RawMessage
}

func (b *bulkSyncRequest) buckets() []typeBucket {
	return []typeBucket{
		{models.DataTypeAnimal, b.Animals},
		{models.DataTypeTracking, b.Tracking},
		{models.DataTypeObservation, b.Observations},
	}
}

// successRate formats synced/total as a percentage string, "0.0%" when
// total is zero.
func successRate(synced, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(synced)/float64(total)*100)
}

// BulkSync handles POST /api/sync/bulk.
// The whole batch is processed synchronously: each data type's array is
// reconciled to completion independently, per-item outcomes never abort the
// rest of the batch, and the session is closed before the response is
// written. 400 when device_id is missing (zero side effects), 413 when the
// batch exceeds the configured ceiling, 500 with the session id when an
// unexpected processing error forces coarse closure.
func (h *SyncHandler) BulkSync(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req bulkSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if req.totalItems() > h.maxBatchItems {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch exceeds %d items", h.maxBatchItems))
		return
	}

	session, err := h.sessions.Open(user, req.DeviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open sync session")
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastSyncStarted(req.DeviceID)
	}

	results := make(map[models.DataType]*sync.TypeResult)
	var allErrors []sync.SyncError
	itemsSeen := 0

	for _, bucket := range req.buckets() {
		itemsSeen += len(bucket.records)

		result, err := h.reconciler.Reconcile(user, req.DeviceID, bucket.dataType, bucket.records)
		if err != nil {
			// Unexpected processing error: close the session coarsely and
			// return the session id so partial effects can be correlated.
			logging.Error("bulk sync aborted by processing error", err, map[string]interface{}{
				"session_id": session.ID, "data_type": bucket.dataType,
			})
			if cerr := h.sessions.CloseFailed(session, itemsSeen); cerr != nil {
				logging.Error("failed to close session after processing error", cerr, nil)
			}
			if h.wsHub != nil {
				h.wsHub.BroadcastSyncFailed(string(session.ID), err.Error())
			}
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   err.Error(),
				"sync_id": session.ID,
			})
			return
		}

		results[bucket.dataType] = result
		allErrors = append(allErrors, result.Errors...)
		h.sessions.Fold(session, result)
	}

	if err := h.sessions.Close(session); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to close sync session")
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastSyncCompleted(string(session.ID), session.SyncedItems,
			session.ConflictItems, session.FailedItems,
			time.Duration(session.DurationSeconds*float64(time.Second)))
	}

	if allErrors == nil {
		allErrors = []sync.SyncError{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sync_id":      session.ID,
		"animals":      results[models.DataTypeAnimal],
		"tracking":     results[models.DataTypeTracking],
		"observations": results[models.DataTypeObservation],
		"errors":       allErrors,
		"summary": map[string]interface{}{
			"total_items":      session.TotalItems,
			"synced":           session.SyncedItems,
			"conflicts":        session.ConflictItems,
			"failed":           session.FailedItems,
			"success_rate":     successRate(session.SyncedItems, session.TotalItems),
			"duration_seconds": session.DurationSeconds,
		},
	})
}

// RetryAll handles POST /api/sync/retry-all.
func (h *SyncHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	count, err := h.retry.RetryAll(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset items")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     fmt.Sprintf("Reset %d items for retry", count),
		"retry_count": count,
	})
}

// RetryOne handles POST /api/sync/retry/{itemID}.
func (h *SyncHandler) RetryOne(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	itemID := r.PathValue("itemID")
	item, err := h.retry.RetryOne(user, itemID)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrNotFound):
			writeError(w, http.StatusNotFound, "item not found")
		case apperrors.Is(err, apperrors.ErrInvalidState):
			writeError(w, http.StatusBadRequest, "Item is not in failed status")
		default:
			writeError(w, http.StatusInternalServerError, "failed to reset item")
		}
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// Stats handles GET /api/sync/stats.
func (h *SyncHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	stats, err := h.stats.Stats(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sessions handles GET /api/sync/sessions.
func (h *SyncHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	h.listSessions(w, r, h.stats.Sessions)
}

// RecentSessions handles GET /api/sync/sessions/recent.
func (h *SyncHandler) RecentSessions(w http.ResponseWriter, r *http.Request) {
	h.listSessions(w, r, h.stats.Recent)
}

func (h *SyncHandler) listSessions(w http.ResponseWriter, r *http.Request, list func(string) ([]*models.SyncSession, error)) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	sessions, err := list(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*models.SyncSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Items handles GET /api/sync/items.
func (h *SyncHandler) Items(w http.ResponseWriter, r *http.Request) {
	h.listItems(w, r, h.stats.Items)
}

// PendingItems handles GET /api/sync/items/pending.
func (h *SyncHandler) PendingItems(w http.ResponseWriter, r *http.Request) {
	h.listItems(w, r, h.stats.Pending)
}

// FailedItems handles GET /api/sync/items/failed.
func (h *SyncHandler) FailedItems(w http.ResponseWriter, r *http.Request) {
	h.listItems(w, r, h.stats.Failed)
}

func (h *SyncHandler) listItems(w http.ResponseWriter, r *http.Request, list func(string) ([]*models.QueueItem, error)) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	items, err := list(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}
