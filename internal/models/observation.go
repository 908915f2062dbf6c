// Package models provides data model definitions for the wildtrack sync backend.
package models

// Observation is a free-form field observation about an animal.
type Observation struct {
	ID         UUID    `db:"id" json:"id"`
	UserID     string  `db:"user_id" json:"user_id"`
	AnimalID   string  `db:"animal_id" json:"animal_id,omitempty"`
	Category   string  `db:"category" json:"category"` // sighting, health, behavior, mortality, other
	Notes      string  `db:"notes" json:"notes,omitempty"`
	Latitude   float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude  float64 `db:"longitude" json:"longitude,omitempty"`
	ObservedAt int64   `db:"observed_at" json:"observed_at"`
	CreatedAt  int64   `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Observation.
func (Observation) TableName() string {
	return "observations"
}
