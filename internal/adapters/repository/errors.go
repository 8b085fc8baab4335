package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a unique constraint hit, e.g. a second snapshot for an epoch.
	ErrConflict = errors.New("conflicting record")
	// ErrEpochClosed rejects writes to the scores of a closed epoch.
	ErrEpochClosed = errors.New("epoch closed")
	// ErrInvalidTransition rejects a status change the state machine does not
	// allow or whose expected prior status no longer holds.
	ErrInvalidTransition = errors.New("invalid status transition")
)
