// Package sync provides the bulk reconciliation engine for field device
// uploads: per-item idempotent classification, session accounting, retry
// coordination and read-side statistics.
package sync

import (
	"encoding/json"

	"github.com/kwachira/wildtrack/internal/db"
	apperrors "github.com/kwachira/wildtrack/internal/errors"
	"github.com/kwachira/wildtrack/internal/logging"
	"github.com/kwachira/wildtrack/internal/models"
)

// Creator validates a raw device record and persists the corresponding
// entity, returning the new entity's server ID. Validation failures are
// reported as VALIDATION_ERROR AppErrors; any other error is treated as an
// unexpected processing error.
type Creator interface {
	ValidateAndCreate(raw json.RawMessage, userID string) (string, error)
}

// DuplicateFinder resolves a tracking fix by its natural key (animal,
// timestamp, coordinates), independent of the client's local_id.
type DuplicateFinder interface {
	FindExisting(userID, animalID string, timestamp int64, lat, lon float64) (string, bool, error)
}

// SyncError is a structured per-item failure reported in the batch response.
type SyncError struct {
	Type    models.DataType `json:"type"`
	LocalID string          `json:"local_id"`
	Detail  string          `json:"detail"`
}

// TypeResult is the outcome of reconciling one data type's record array.
type TypeResult struct {
	Synced    int         `json:"synced"`
	Failed    int         `json:"failed"`
	Conflicts int         `json:"conflicts"`
	Errors    []SyncError `json:"-"`
}

// Total returns the number of items the result accounts for.
func (r *TypeResult) Total() int {
	return r.Synced + r.Failed + r.Conflicts
}

// Reconciler classifies each uploaded record as synced, conflict or failed
// without letting any single item's outcome abort the rest of the batch.
type Reconciler struct {
	repo     *db.Repository
	creators map[models.DataType]Creator
	fixes    DuplicateFinder // natural-key lookup for tracking records, may be nil
}

// NewReconciler creates a Reconciler over the given ledger repository and
// per-type collaborators.
func NewReconciler(repo *db.Repository, creators map[models.DataType]Creator, fixes DuplicateFinder) *Reconciler {
	return &Reconciler{
		repo:     repo,
		creators: creators,
		fixes:    fixes,
	}
}

// recordKeys is the minimal probe decoded from every raw record to derive
// the idempotency key before type-specific validation runs.
type recordKeys struct {
	LocalID string `json:"local_id"`
	ID      string `json:"id"`
}

// trackingNaturalKey is the probe for the tracking natural-key check.
type trackingNaturalKey struct {
	Animal    string  `json:"animal"`
	Timestamp int64   `json:"timestamp"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// Reconcile processes one data type's record array. Each record is
// classified independently:
//
//	conflict — a completed ledger entry already exists for the idempotency
//	           key, or (tracking only) an equivalent fix was already
//	           committed under a different local_id
//	synced   — the collaborator validated and created the entity and the
//	           outcome was committed to the ledger
//	failed   — the collaborator rejected the record; the failure is
//	           recorded in the ledger and reported in Errors
//
// Only unexpected storage errors return a non-nil error; those escape
// per-item isolation and force coarse session closure in the caller.
func (r *Reconciler) Reconcile(userID, deviceID string, dataType models.DataType, rawRecords []json.RawMessage) (*TypeResult, error) {
	result := &TypeResult{}

	creator, ok := r.creators[dataType]
	if !ok {
		return nil, apperrors.New(apperrors.ErrInternal, "no collaborator registered for data type "+string(dataType))
	}

	for _, raw := range rawRecords {
		// Step 1: derive the idempotency key. The client-supplied local
		// identifier wins; the record's own id is the fallback.
		var keys recordKeys
		if err := json.Unmarshal(raw, &keys); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, SyncError{
				Type: dataType, Detail: "malformed record: " + err.Error(),
			})
			continue
		}
		localID := keys.LocalID
		if localID == "" {
			localID = keys.ID
		}
		if localID == "" {
			result.Failed++
			result.Errors = append(result.Errors, SyncError{
				Type: dataType, Detail: "record has no local_id or id",
			})
			continue
		}

		// Step 2: idempotency check against the ledger.
		committed, err := r.repo.FindCompletedItem(userID, deviceID, dataType, localID)
		if err != nil {
			return result, apperrors.Wrap(apperrors.ErrDatabase, "idempotency lookup failed", err)
		}
		if committed != nil {
			result.Conflicts++
			logging.Debug("duplicate upload for committed item", map[string]interface{}{
				"data_type": dataType, "local_id": localID, "ledger_id": committed.ID,
			})
			continue
		}

		// Step 3: tracking fixes are additionally deduplicated by natural
		// key, guarding against two devices reporting the same physical fix
		// under different local_ids.
		if dataType == models.DataTypeTracking && r.fixes != nil {
			var nk trackingNaturalKey
			if err := json.Unmarshal(raw, &nk); err == nil && nk.Animal != "" {
				_, found, err := r.fixes.FindExisting(userID, nk.Animal, nk.Timestamp, nk.Lat, nk.Lon)
				if err != nil {
					return result, apperrors.Wrap(apperrors.ErrDatabase, "natural key lookup failed", err)
				}
				if found {
					result.Conflicts++
					logging.Debug("duplicate tracking fix by natural key", map[string]interface{}{
						"animal": nk.Animal, "timestamp": nk.Timestamp, "local_id": localID,
					})
					continue
				}
			}
		}

		// Step 4: delegate to the type-specific collaborator.
		serverID, err := creator.ValidateAndCreate(raw, userID)
		if err != nil {
			if !apperrors.Is(err, apperrors.ErrValidation) {
				// Unexpected error, escapes per-item isolation
				return result, err
			}
			result.Failed++
			result.Errors = append(result.Errors, SyncError{
				Type: dataType, LocalID: localID, Detail: err.Error(),
			})
			if _, ferr := r.repo.RecordFailure(userID, deviceID, dataType, localID, raw, err.Error()); ferr != nil {
				return result, apperrors.Wrap(apperrors.ErrDatabase, "failed to record failure", ferr)
			}
			continue
		}

		// Commit the outcome to the ledger. Losing the race to a concurrent
		// commit of the same key is a conflict, not an error.
		if _, err := r.repo.CommitItem(userID, deviceID, dataType, localID, serverID, raw); err != nil {
			if apperrors.Is(err, apperrors.ErrConstraint) {
				result.Conflicts++
				continue
			}
			return result, err
		}
		result.Synced++
	}

	return result, nil
}
