package ledger

import "errors"

// Sentinel kinds for ledger errors. All of them are input errors reported to
// the caller and never retried.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAccount      = errors.New("invalid account id")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInvalidIdentity     = errors.New("invalid external identity")
	errNegativeBalance     = errors.New("balance would become negative")
)
