// Package models provides data model definitions for the wildtrack sync backend.
package models

// Animal is a registered animal owned by a field user.
type Animal struct {
	ID        UUID   `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	Name      string `db:"name" json:"name"`
	Species   string `db:"species" json:"species"`
	Sex       string `db:"sex" json:"sex,omitempty"` // male, female, unknown
	BirthYear int    `db:"birth_year" json:"birth_year,omitempty"`
	Notes     string `db:"notes" json:"notes,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Animal.
func (Animal) TableName() string {
	return "animals"
}
