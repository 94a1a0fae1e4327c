package entity

import (
	"context"
	"time"
)

// HistoryEntry represents a single entity state change record.
//
// Each entry stores a flattened snapshot of the entity state at the
// time the change was observed. This provides a local audit trail even
// when the time-series database is unavailable.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// EntityID is the unique identifier of the entity.
	EntityID string `json:"entity_id"`

	// Values is the flattened signal snapshot (see State.Values).
	Values map[string]any `json:"values"`

	// Cause identifies how the state change was recorded (bus, command).
	Cause string `json:"cause"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves entity state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordChange records an entity state change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - entityID: Unique entity identifier
	//   - values: Flattened signal snapshot to persist
	//   - cause: Origin of the change (bus, command)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordChange(ctx context.Context, entityID string, values map[string]any, cause string) error

	// GetHistory returns recent state change history for the entity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - entityID: Unique entity identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []HistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error)
}
