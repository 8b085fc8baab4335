package scheduler

import "errors"

// Sentinel kinds for scheduler errors.
var (
	// ErrPriorEpochUnresolved blocks an epoch while an earlier one still has
	// unsettled payouts or an unfinished run.
	ErrPriorEpochUnresolved = errors.New("prior epoch unresolved")
	// ErrEpochNotStarted rejects opening an epoch older than the newest run.
	ErrEpochNotStarted = errors.New("epoch older than the latest run was never started")
	// ErrEpochNotElapsed rejects running an epoch whose window is still open.
	ErrEpochNotElapsed = errors.New("epoch window has not elapsed")
	ErrNotRedrivable   = errors.New("payout is not failed-terminal")
	ErrAlreadyRunning  = errors.New("scheduler already running")
)
