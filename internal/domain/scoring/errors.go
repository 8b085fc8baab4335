package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	// ErrClassifierUnavailable signals that the classifier could not give a verdict.
	// Scoring treats it as degraded mode, never as a failure.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)
