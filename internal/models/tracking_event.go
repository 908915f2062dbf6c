// Package models provides data model definitions for the wildtrack sync backend.
package models

import "time"

// TrackingEvent is a single GPS location fix for an animal. The
// (animal_id, recorded_at, latitude, longitude) tuple is the natural key
// used for duplicate detection across devices.
type TrackingEvent struct {
	ID         UUID    `db:"id" json:"id"`
	UserID     string  `db:"user_id" json:"user_id"`
	AnimalID   string  `db:"animal_id" json:"animal_id"`
	Latitude   float64 `db:"latitude" json:"latitude"`
	Longitude  float64 `db:"longitude" json:"longitude"`
	RecordedAt int64   `db:"recorded_at" json:"recorded_at"`
	Altitude   float64 `db:"altitude" json:"altitude,omitempty"`
	Accuracy   float64 `db:"accuracy" json:"accuracy,omitempty"`
	Source     string  `db:"source" json:"source,omitempty"` // collar, handheld, manual
	CreatedAt  int64   `db:"created_at" json:"created_at"`
}

// TableName returns the table name for TrackingEvent.
func (TrackingEvent) TableName() string {
	return "tracking_events"
}

// RecordedAtTime returns RecordedAt as time.Time.
func (t *TrackingEvent) RecordedAtTime() time.Time {
	return time.Unix(t.RecordedAt, 0)
}
