package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted    = errors.New("service not started")
	ErrNoClosedEpoch = errors.New("no closed epoch")
	ErrEpochNotRun   = errors.New("epoch has not been run")
	ErrNoScore       = errors.New("no score for account")
)
