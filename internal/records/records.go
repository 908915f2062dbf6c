// Package records provides the per-type validate-and-create collaborators
// consumed by the sync reconciler. Each collaborator decodes a raw device
// record into its typed payload, validates it at the boundary and persists
// the corresponding entity.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kwachira/wildtrack/internal/db"
	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/models"
)

// AnimalPayload is the wire shape of an animal registration record.
type AnimalPayload struct {
	LocalID   string `json:"local_id"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Species   string `json:"species"`
	Sex       string `json:"sex"`
	BirthYear int    `json:"birth_year"`
	Notes     string `json:"notes"`
}

// TrackingPayload is the wire shape of a GPS tracking fix.
type TrackingPayload struct {
	LocalID   string  `json:"local_id"`
	ID        string  `json:"id"`
	Animal    string  `json:"animal"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
	Source    string  `json:"source"`
}

// ObservationPayload is the wire shape of a field observation record.
type ObservationPayload struct {
	LocalID    string  `json:"local_id"`
	ID         string  `json:"id"`
	Animal     string  `json:"animal"`
	Category   string  `json:"category"`
	Notes      string  `json:"notes"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ObservedAt int64   `json:"observed_at"`
}

func validationError(format string, args ...interface{}) error {
	return apperrors.New(apperrors.ErrValidation, fmt.Sprintf(format, args...))
}

// =====================================================
// AnimalService
// =====================================================

// AnimalService validates and creates animal registrations.
type AnimalService struct {
	repo *db.Repository
}

// NewAnimalService creates a new AnimalService.
func NewAnimalService(repo *db.Repository) *AnimalService {
	return &AnimalService{repo: repo}
}

// ValidateAndCreate decodes and validates a raw animal record and persists
// it. Returns the new entity ID, or a VALIDATION_ERROR AppError.
func (s *AnimalService) ValidateAndCreate(raw json.RawMessage, userID string) (string, error) {
	var p AnimalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "malformed animal record", err)
	}

	if p.Name == "" {
		return "", validationError("name is required")
	}
	if p.Species == "" {
		return "", validationError("species is required")
	}
	switch p.Sex {
	case "", "male", "female", "unknown":
	default:
		return "", validationError("invalid sex: %q", p.Sex)
	}
	if p.BirthYear != 0 && (p.BirthYear < 1900 || p.BirthYear > time.Now().Year()) {
		return "", validationError("invalid birth_year: %d", p.BirthYear)
	}

	animal := &models.Animal{
		UserID:    userID,
		Name:      p.Name,
		Species:   p.Species,
		Sex:       p.Sex,
		BirthYear: p.BirthYear,
		Notes:     p.Notes,
	}
	if animal.Sex == "" {
		animal.Sex = "unknown"
	}

	if err := s.repo.CreateAnimal(animal); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to create animal", err)
	}
	return string(animal.ID), nil
}

// =====================================================
// TrackingService
// =====================================================

// TrackingService validates and creates GPS tracking fixes, and resolves
// natural-key duplicates across devices.
type TrackingService struct {
	repo *db.Repository
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(repo *db.Repository) *TrackingService {
	return &TrackingService{repo: repo}
}

// ValidateAndCreate decodes and validates a raw tracking record and
// persists it. Returns the new entity ID, or a VALIDATION_ERROR AppError.
func (s *TrackingService) ValidateAndCreate(raw json.RawMessage, userID string) (string, error) {
	var p TrackingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "malformed tracking record", err)
	}

	if p.Animal == "" {
		return "", validationError("animal is required")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return "", validationError("latitude out of range: %v", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return "", validationError("longitude out of range: %v", p.Lon)
	}
	if p.Timestamp <= 0 {
		return "", validationError("timestamp is required")
	}

	event := &models.TrackingEvent{
		UserID:     userID,
		AnimalID:   p.Animal,
		Latitude:   p.Lat,
		Longitude:  p.Lon,
		RecordedAt: p.Timestamp,
		Altitude:   p.Altitude,
		Accuracy:   p.Accuracy,
		Source:     p.Source,
	}

	if err := s.repo.CreateTrackingEvent(event); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to create tracking event", err)
	}
	return string(event.ID), nil
}

// FindExisting looks up an already-committed fix by its natural key
// (animal, timestamp, coordinates), independent of local_id. Two devices
// reporting the same physical fix collide here.
func (s *TrackingService) FindExisting(userID, animalID string, timestamp int64, lat, lon float64) (string, bool, error) {
	event, err := s.repo.FindTrackingEvent(userID, animalID, timestamp, lat, lon)
	if err != nil {
		return "", false, err
	}
	if event == nil {
		return "", false, nil
	}
	return string(event.ID), true, nil
}

// =====================================================
// ObservationService
// =====================================================

// ObservationService validates and creates field observations.
type ObservationService struct {
	repo *db.Repository
}

// NewObservationService creates a new ObservationService.
func NewObservationService(repo *db.Repository) *ObservationService {
	return &ObservationService{repo: repo}
}

// ValidateAndCreate decodes and validates a raw observation record and
// persists it. Returns the new entity ID, or a VALIDATION_ERROR AppError.
func (s *ObservationService) ValidateAndCreate(raw json.RawMessage, userID string) (string, error) {
	var p ObservationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "malformed observation record", err)
	}

	if p.Category == "" {
		return "", validationError("category is required")
	}
	switch p.Category {
	case "sighting", "health", "behavior", "mortality", "other":
	default:
		return "", validationError("invalid category: %q", p.Category)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return "", validationError("latitude out of range: %v", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return "", validationError("longitude out of range: %v", p.Lon)
	}

	observedAt := p.ObservedAt
	if observedAt == 0 {
		observedAt = time.Now().Unix()
	}

	obs := &models.Observation{
		UserID:     userID,
		AnimalID:   p.Animal,
		Category:   p.Category,
		Notes:      p.Notes,
		Latitude:   p.Lat,
		Longitude:  p.Lon,
		ObservedAt: observedAt,
	}

	if err := s.repo.CreateObservation(obs); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to create observation", err)
	}
	return string(obs.ID), nil
}
