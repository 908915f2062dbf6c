package sync

import (
	"github.com/kwachira/wildtrack/internal/db"
	"github.com/kwachira/wildtrack/internal/models"
)

// recentSessionLimit caps the recent-sessions listing.
const recentSessionLimit = 10

// UserStats is the per-user read-side rollup over all sync sessions.
type UserStats struct {
	TotalSessions      int     `json:"total_sessions"`
	SuccessfulSessions int     `json:"successful_sessions"`
	FailedSessions     int     `json:"failed_sessions"`
	TotalItems         int     `json:"total_items"`
	SyncedItems        int     `json:"synced_items"`
	ConflictItems      int     `json:"conflict_items"`
	FailedItems        int     `json:"failed_items"`
	SuccessRate        float64 `json:"success_rate"`
	SyncEfficiency     float64 `json:"sync_efficiency"`
}

// StatsAggregator computes read-side rollups over the session history and
// the ledger. It never mutates state.
type StatsAggregator struct {
	repo *db.Repository
}

// NewStatsAggregator creates a new StatsAggregator.
func NewStatsAggregator(repo *db.Repository) *StatsAggregator {
	return &StatsAggregator{repo: repo}
}

// Stats aggregates the user's session history. Rates are exactly 0 when
// their denominators are 0.
func (a *StatsAggregator) Stats(userID string) (*UserStats, error) {
	totals, err := a.repo.GetSessionTotals(userID)
	if err != nil {
		return nil, err
	}

	stats := &UserStats{
		TotalSessions:      totals.TotalSessions,
		SuccessfulSessions: totals.CompletedSessions,
		FailedSessions:     totals.TotalSessions - totals.CompletedSessions,
		TotalItems:         totals.TotalItems,
		SyncedItems:        totals.SyncedItems,
		ConflictItems:      totals.ConflictItems,
		FailedItems:        totals.FailedItems,
	}

	if stats.TotalSessions > 0 {
		stats.SuccessRate = float64(stats.SuccessfulSessions) / float64(stats.TotalSessions) * 100
	}
	if stats.TotalItems > 0 {
		stats.SyncEfficiency = float64(stats.SyncedItems) / float64(stats.TotalItems) * 100
	}

	return stats, nil
}

// Sessions lists all of the user's sessions, newest first.
func (a *StatsAggregator) Sessions(userID string) ([]*models.SyncSession, error) {
	return a.repo.ListSessions(userID, 0)
}

// Recent returns the user's last 10 sessions ordered by start time
// descending.
func (a *StatsAggregator) Recent(userID string) ([]*models.SyncSession, error) {
	return a.repo.ListSessions(userID, recentSessionLimit)
}

// Items lists all of the user's ledger entries ordered by creation time.
func (a *StatsAggregator) Items(userID string) ([]*models.QueueItem, error) {
	return a.repo.ListQueueItems(userID)
}

// Pending lists the user's pending ledger entries ordered by creation time.
func (a *StatsAggregator) Pending(userID string) ([]*models.QueueItem, error) {
	return a.repo.ListQueueItemsByStatus(userID, models.StatusPending)
}

// Failed lists the user's failed ledger entries ordered by creation time.
func (a *StatsAggregator) Failed(userID string) ([]*models.QueueItem, error) {
	return a.repo.ListQueueItemsByStatus(userID, models.StatusFailed)
}
