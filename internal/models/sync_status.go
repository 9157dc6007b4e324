package models

import "time"

// SyncResult is the outcome of a single remote reconciliation. Remote
// failures are reported through Error rather than a Go error so callers
// can decide between queueing a retry and surfacing the failure.
type SyncResult[T any] struct {
	Success          bool
	Data             *T
	Error            string
	ConflictResolved bool
}

// Ok wraps a successful result.
func Ok[T any](data T) SyncResult[T] {
	return SyncResult[T]{Success: true, Data: &data}
}

// Fail wraps a failed result.
func Fail[T any](msg string) SyncResult[T] {
	return SyncResult[T]{Error: msg}
}

// MigrationProgress reports bulk migration of local buildings to the
// hosted store. A failed building or item is recorded as an error
// string and does not stop the walk.
type MigrationProgress struct {
	Total     int
	Completed int
	Current   string
	Errors    []string
}

// SyncStatus is the aggregate view the engine exposes to callers. It is
// derived state, never persisted.
type SyncStatus struct {
	IsOnline          bool
	IsSyncing         bool
	LastSync          *time.Time
	ConflictsResolved int
	PendingOperations int
	Errors            []string
}
