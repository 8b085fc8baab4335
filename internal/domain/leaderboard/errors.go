package leaderboard

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	// ErrEpochAlreadyClosed is returned when an epoch is closed again with a
	// different score set.
	ErrEpochAlreadyClosed = errors.New("epoch already closed")
	ErrEpochNotClosed     = errors.New("epoch not closed")
	ErrNotRanked          = errors.New("account not ranked")
	ErrInvalidLimit       = errors.New("invalid leaderboard limit")
	ErrInvalidScores      = errors.New("invalid score set")
)
