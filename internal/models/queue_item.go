// Package models provides data model definitions for the wildtrack sync backend.
package models

import (
	"encoding/json"
	"time"
)

// QueueItem is the durable ledger record of one item's reconciliation
// outcome. The (user_id, device_id, data_type, local_id) tuple is the
// idempotency key: at most one entry per tuple may ever reach
// status=completed, enforced by a partial unique index at the storage layer.
type QueueItem struct {
	ID           UUID            `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	DeviceID     string          `db:"device_id" json:"device_id"`
	DataType     DataType        `db:"data_type" json:"data_type"`
	LocalID      string          `db:"local_id" json:"local_id"`
	ServerID     string          `db:"server_id" json:"server_id,omitempty"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       ItemStatus      `db:"status" json:"status"`
	ConflictData json.RawMessage `db:"conflict_data" json:"conflict_data,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	Attempts     int             `db:"attempts" json:"attempts"`
	CreatedAt    int64           `db:"created_at" json:"created_at"`
	SyncedAt     int64           `db:"synced_at" json:"synced_at,omitempty"` // 0 until committed
	Version      int             `db:"version" json:"version"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (q *QueueItem) CreatedAtTime() time.Time {
	return time.Unix(q.CreatedAt, 0)
}
