// Package models provides data model definitions for the wildtrack sync backend.
package models

import (
	"database/sql/driver"
	"fmt"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// DataType identifies the kind of field record carried by a ledger entry.
type DataType string

const (
	DataTypeAnimal      DataType = "animal"
	DataTypeTracking    DataType = "tracking"
	DataTypeObservation DataType = "observation"
	DataTypePrediction  DataType = "prediction"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeAnimal, DataTypeTracking, DataTypeObservation, DataTypePrediction:
		return true
	}
	return false
}

// ItemStatus represents the reconciliation status of a ledger entry.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusSyncing   ItemStatus = "syncing"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
	StatusConflict  ItemStatus = "conflict"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusCompleted, StatusFailed, StatusConflict:
		return true
	}
	return false
}
