// Package models provides data model definitions for the wildtrack sync backend.
package models

import "time"

// SyncSession records the processing outcome and timing of one upload batch.
// Counters are mutated only by the session manager; once CompletedAt is set
// the session is closed and total_items == synced + conflict + failed.
type SyncSession struct {
	ID              UUID    `db:"id" json:"id"`
	UserID          string  `db:"user_id" json:"user_id"`
	DeviceID        string  `db:"device_id" json:"device_id"`
	StartedAt       int64   `db:"started_at" json:"started_at"`
	CompletedAt     int64   `db:"completed_at" json:"completed_at,omitempty"` // 0 until closed
	DurationSeconds float64 `db:"duration_seconds" json:"duration_seconds"`
	TotalItems      int     `db:"total_items" json:"total_items"`
	SyncedItems     int     `db:"synced_items" json:"synced_items"`
	ConflictItems   int     `db:"conflict_items" json:"conflict_items"`
	FailedItems     int     `db:"failed_items" json:"failed_items"`
}

// TableName returns the table name for SyncSession.
func (SyncSession) TableName() string {
	return "sync_sessions"
}

// Completed reports whether the session has been closed.
func (s *SyncSession) Completed() bool {
	return s.CompletedAt > 0
}

// StartedAtTime returns StartedAt as time.Time.
func (s *SyncSession) StartedAtTime() time.Time {
	return time.Unix(s.StartedAt, 0)
}
