package store

import "errors"

// Sentinel errors surfaced to callers. Batch operations (assignment,
// generation) aggregate these per item instead of failing the run.
var (
	// ErrNotFound means a referenced task or worker id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means a requested state change violates the
	// task lifecycle (pending -> in_progress -> completed).
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict means a concurrent modification won the version race.
	ErrConflict = errors.New("concurrent modification")

	// ErrDuplicate means a task for the same (tenant, kind, period)
	// already exists.
	ErrDuplicate = errors.New("duplicate task for period")
)
