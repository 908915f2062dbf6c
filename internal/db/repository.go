// Package db provides CRUD repository operations for wildtrack data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/models"
	"github.com/kwachira/wildtrack/internal/uuid"
)

// Repository provides CRUD operations for all models.
// Frequently used queries go through a prepared statement cache.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// isUniqueViolation reports whether err is a SQLite unique index violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =====================================================
// SyncSession Operations
// =====================================================

// CreateSession creates a new sync session with zeroed counters.
func (r *Repository) CreateSession(s *models.SyncSession) error {
	s.ID = models.UUID(uuid.New())
	if s.StartedAt == 0 {
		s.StartedAt = time.Now().Unix()
	}

	query := `
	INSERT INTO sync_sessions (id, user_id, device_id, started_at, completed_at,
		duration_seconds, total_items, synced_items, conflict_items, failed_items)
	VALUES (?, ?, ?, ?, NULL, 0, 0, 0, 0, 0)
	`
	_, err := r.db.Exec(query, s.ID, s.UserID, s.DeviceID, s.StartedAt)
	return err
}

// UpdateSession persists the session counters and completion state.
func (r *Repository) UpdateSession(s *models.SyncSession) error {
	var completedAt interface{}
	if s.CompletedAt > 0 {
		completedAt = s.CompletedAt
	}

	query := `
	UPDATE sync_sessions
	SET completed_at = ?, duration_seconds = ?, total_items = ?,
		synced_items = ?, conflict_items = ?, failed_items = ?
	WHERE id = ?
	`
	result, err := r.db.Exec(query, completedAt, s.DurationSeconds, s.TotalItems,
		s.SyncedItems, s.ConflictItems, s.FailedItems, s.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("sync session not found: %s", s.ID)
	}
	return nil
}

// scanSession scans a sync_sessions row.
func scanSession(scan func(dest ...interface{}) error) (*models.SyncSession, error) {
	var s models.SyncSession
	var completedAt sql.NullInt64
	err := scan(&s.ID, &s.UserID, &s.DeviceID, &s.StartedAt, &completedAt,
		&s.DurationSeconds, &s.TotalItems, &s.SyncedItems, &s.ConflictItems, &s.FailedItems)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		s.CompletedAt = completedAt.Int64
	}
	return &s, nil
}

const sessionColumns = `id, user_id, device_id, started_at, completed_at,
	duration_seconds, total_items, synced_items, conflict_items, failed_items`

// GetSession retrieves a session by ID, scoped to its owning user.
func (r *Repository) GetSession(userID, id string) (*models.SyncSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE id = ? AND user_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanSession(stmt.QueryRow(id, userID).Scan)
}

// ListSessions returns the user's sessions ordered by start time descending.
// A limit of 0 means no limit.
func (r *Repository) ListSessions(userID string, limit int) ([]*models.SyncSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE user_id = ? ORDER BY started_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.SyncSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionTotals holds per-user aggregates over all sync sessions.
type SessionTotals struct {
	TotalSessions     int
	CompletedSessions int
	TotalItems        int
	SyncedItems       int
	ConflictItems     int
	FailedItems       int
}

// GetSessionTotals aggregates session counters for a user.
func (r *Repository) GetSessionTotals(userID string) (*SessionTotals, error) {
	query := `
	SELECT COUNT(*),
		   COALESCE(SUM(CASE WHEN completed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(total_items), 0),
		   COALESCE(SUM(synced_items), 0),
		   COALESCE(SUM(conflict_items), 0),
		   COALESCE(SUM(failed_items), 0)
	FROM sync_sessions WHERE user_id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var t SessionTotals
	err = stmt.QueryRow(userID).Scan(&t.TotalSessions, &t.CompletedSessions,
		&t.TotalItems, &t.SyncedItems, &t.ConflictItems, &t.FailedItems)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =====================================================
// QueueItem (ledger) Operations
// =====================================================

const queueItemColumns = `id, user_id, device_id, data_type, local_id, server_id,
	payload, status, conflict_data, error_message, attempts, created_at, synced_at, version`

// scanQueueItem scans a sync_queue row.
func scanQueueItem(scan func(dest ...interface{}) error) (*models.QueueItem, error) {
	var item models.QueueItem
	var serverID, conflictData sql.NullString
	var syncedAt sql.NullInt64
	var payload string
	err := scan(&item.ID, &item.UserID, &item.DeviceID, &item.DataType, &item.LocalID,
		&serverID, &payload, &item.Status, &conflictData, &item.ErrorMessage,
		&item.Attempts, &item.CreatedAt, &syncedAt, &item.Version)
	if err != nil {
		return nil, err
	}
	item.Payload = json.RawMessage(payload)
	if serverID.Valid {
		item.ServerID = serverID.String
	}
	if conflictData.Valid {
		item.ConflictData = json.RawMessage(conflictData.String)
	}
	if syncedAt.Valid {
		item.SyncedAt = syncedAt.Int64
	}
	return &item, nil
}

// GetQueueItem retrieves a ledger entry by ID, scoped to its owning user.
// Returns (nil, nil) when no entry exists.
func (r *Repository) GetQueueItem(userID, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM sync_queue WHERE id = ? AND user_id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	item, err := scanQueueItem(stmt.QueryRow(id, userID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// FindCompletedItem looks up a completed ledger entry by idempotency key.
// Returns (nil, nil) when no completed entry exists for the key.
func (r *Repository) FindCompletedItem(userID, deviceID string, dataType models.DataType, localID string) (*models.QueueItem, error) {
	query := `
	SELECT ` + queueItemColumns + `
	FROM sync_queue
	WHERE user_id = ? AND device_id = ? AND data_type = ? AND local_id = ? AND status = 'completed'
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	item, err := scanQueueItem(stmt.QueryRow(userID, deviceID, dataType, localID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// FindItemByKey looks up the latest ledger entry for an idempotency key in
// any status. Returns (nil, nil) when no entry exists.
func (r *Repository) FindItemByKey(userID, deviceID string, dataType models.DataType, localID string) (*models.QueueItem, error) {
	query := `
	SELECT ` + queueItemColumns + `
	FROM sync_queue
	WHERE user_id = ? AND device_id = ? AND data_type = ? AND local_id = ?
	ORDER BY created_at DESC, version DESC LIMIT 1
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	item, err := scanQueueItem(stmt.QueryRow(userID, deviceID, dataType, localID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// CommitItem durably records a successful sync for an idempotency key.
// An existing pending/failed entry for the key is transitioned to completed
// in place; otherwise a new completed entry is inserted. The partial unique
// index on completed keys makes the commit atomic: a concurrent commit of
// the same key surfaces as a CONSTRAINT_VIOLATION AppError.
func (r *Repository) CommitItem(userID, deviceID string, dataType models.DataType, localID, serverID string, payload json.RawMessage) (*models.QueueItem, error) {
	now := time.Now().Unix()

	existing, err := r.FindItemByKey(userID, deviceID, dataType, localID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Status != models.StatusCompleted {
		query := `
		UPDATE sync_queue
		SET status = 'completed', server_id = ?, synced_at = ?,
			error_message = '', attempts = attempts + 1, version = version + 1
		WHERE id = ?
		`
		if _, err := r.db.Exec(query, serverID, now, existing.ID); err != nil {
			if isUniqueViolation(err) {
				return nil, apperrors.Wrap(apperrors.ErrConstraint, "ledger entry already completed for key", err)
			}
			return nil, err
		}
		return r.GetQueueItem(userID, string(existing.ID))
	}

	item := &models.QueueItem{
		ID:        models.UUID(uuid.New()),
		UserID:    userID,
		DeviceID:  deviceID,
		DataType:  dataType,
		LocalID:   localID,
		ServerID:  serverID,
		Payload:   payload,
		Status:    models.StatusCompleted,
		Attempts:  1,
		CreatedAt: now,
		SyncedAt:  now,
		Version:   1,
	}

	query := `
	INSERT INTO sync_queue (id, user_id, device_id, data_type, local_id, server_id,
		payload, status, error_message, attempts, created_at, synced_at, version)
	VALUES (?, ?, ?, ?, ?, ?, ?, 'completed', '', 1, ?, ?, 1)
	`
	_, err = r.db.Exec(query, item.ID, item.UserID, item.DeviceID, item.DataType,
		item.LocalID, item.ServerID, string(item.Payload), item.CreatedAt, item.SyncedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Wrap(apperrors.ErrConstraint, "ledger entry already completed for key", err)
		}
		return nil, err
	}
	return item, nil
}

// RecordFailure records a failed sync outcome for an idempotency key so it
// can be listed, audited and retried. An existing non-completed entry is
// updated in place; otherwise a new failed entry is inserted.
func (r *Repository) RecordFailure(userID, deviceID string, dataType models.DataType, localID string, payload json.RawMessage, errMsg string) (*models.QueueItem, error) {
	now := time.Now().Unix()

	existing, err := r.FindItemByKey(userID, deviceID, dataType, localID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Status != models.StatusCompleted {
		query := `
		UPDATE sync_queue
		SET status = 'failed', error_message = ?, payload = ?,
			attempts = attempts + 1, version = version + 1
		WHERE id = ?
		`
		if _, err := r.db.Exec(query, errMsg, string(payload), existing.ID); err != nil {
			return nil, err
		}
		return r.GetQueueItem(userID, string(existing.ID))
	}

	item := &models.QueueItem{
		ID:           models.UUID(uuid.New()),
		UserID:       userID,
		DeviceID:     deviceID,
		DataType:     dataType,
		LocalID:      localID,
		Payload:      payload,
		Status:       models.StatusFailed,
		ErrorMessage: errMsg,
		Attempts:     1,
		CreatedAt:    now,
		Version:      1,
	}

	query := `
	INSERT INTO sync_queue (id, user_id, device_id, data_type, local_id,
		payload, status, error_message, attempts, created_at, version)
	VALUES (?, ?, ?, ?, ?, ?, 'failed', ?, 1, ?, 1)
	`
	_, err = r.db.Exec(query, item.ID, item.UserID, item.DeviceID, item.DataType,
		item.LocalID, string(item.Payload), item.ErrorMessage, item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListQueueItems returns the user's ledger entries ordered by creation time.
func (r *Repository) ListQueueItems(userID string) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM sync_queue WHERE user_id = ? ORDER BY created_at`
	return r.queryQueueItems(query, userID)
}

// ListQueueItemsByStatus returns the user's ledger entries filtered by
// status, ordered by creation time.
func (r *Repository) ListQueueItemsByStatus(userID string, status models.ItemStatus) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM sync_queue WHERE user_id = ? AND status = ? ORDER BY created_at`
	return r.queryQueueItems(query, userID, status)
}

func (r *Repository) queryQueueItems(query string, args ...interface{}) ([]*models.QueueItem, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResetFailedItems transitions all of the user's failed ledger entries back
// to pending with zeroed attempts and a cleared error. Returns the number
// of entries transitioned.
func (r *Repository) ResetFailedItems(userID string) (int, error) {
	query := `
	UPDATE sync_queue
	SET status = 'pending', attempts = 0, error_message = '', version = version + 1
	WHERE user_id = ? AND status = 'failed'
	`
	result, err := r.db.Exec(query, userID)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// ResetItem transitions a single failed ledger entry back to pending.
// The status guard in the WHERE clause keeps concurrent resets safe.
func (r *Repository) ResetItem(userID, id string) error {
	query := `
	UPDATE sync_queue
	SET status = 'pending', attempts = 0, error_message = '', version = version + 1
	WHERE id = ? AND user_id = ? AND status = 'failed'
	`
	result, err := r.db.Exec(query, id, userID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrInvalidState, "item is not in failed status")
	}
	return nil
}

// =====================================================
// Animal Operations
// =====================================================

// CreateAnimal creates a new animal registration.
func (r *Repository) CreateAnimal(a *models.Animal) error {
	now := time.Now().Unix()
	a.ID = models.UUID(uuid.New())
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
	INSERT INTO animals (id, user_id, name, species, sex, birth_year, notes, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, a.ID, a.UserID, a.Name, a.Species, a.Sex,
		a.BirthYear, a.Notes, a.CreatedAt, a.UpdatedAt)
	return err
}

// =====================================================
// TrackingEvent Operations
// =====================================================

// CreateTrackingEvent creates a new tracking fix.
func (r *Repository) CreateTrackingEvent(t *models.TrackingEvent) error {
	t.ID = models.UUID(uuid.New())
	t.CreatedAt = time.Now().Unix()

	query := `
	INSERT INTO tracking_events (id, user_id, animal_id, latitude, longitude,
		recorded_at, altitude, accuracy, source, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, t.ID, t.UserID, t.AnimalID, t.Latitude, t.Longitude,
		t.RecordedAt, t.Altitude, t.Accuracy, t.Source, t.CreatedAt)
	return err
}

// FindTrackingEvent looks up a fix by its natural key (animal, timestamp,
// coordinates). Returns (nil, nil) when no match exists.
func (r *Repository) FindTrackingEvent(userID, animalID string, recordedAt int64, lat, lon float64) (*models.TrackingEvent, error) {
	query := `
	SELECT id, user_id, animal_id, latitude, longitude, recorded_at, altitude, accuracy, source, created_at
	FROM tracking_events
	WHERE user_id = ? AND animal_id = ? AND recorded_at = ? AND latitude = ? AND longitude = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var t models.TrackingEvent
	var altitude, accuracy sql.NullFloat64
	err = stmt.QueryRow(userID, animalID, recordedAt, lat, lon).Scan(
		&t.ID, &t.UserID, &t.AnimalID, &t.Latitude, &t.Longitude,
		&t.RecordedAt, &altitude, &accuracy, &t.Source, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if altitude.Valid {
		t.Altitude = altitude.Float64
	}
	if accuracy.Valid {
		t.Accuracy = accuracy.Float64
	}
	return &t, nil
}

// =====================================================
// Observation Operations
// =====================================================

// CreateObservation creates a new field observation.
func (r *Repository) CreateObservation(o *models.Observation) error {
	o.ID = models.UUID(uuid.New())
	o.CreatedAt = time.Now().Unix()

	query := `
	INSERT INTO observations (id, user_id, animal_id, category, notes,
		latitude, longitude, observed_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, o.ID, o.UserID, o.AnimalID, o.Category, o.Notes,
		o.Latitude, o.Longitude, o.ObservedAt, o.CreatedAt)
	return err
}
