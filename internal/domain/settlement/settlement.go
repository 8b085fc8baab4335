// Package settlement defines the contract of the external system that moves
// value to accounts.
package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Sentinel kinds for settlement errors.
var (
	// ErrRetryable marks a transient failure (timeout, network); the same
	// request may be sent again with the same key.
	ErrRetryable = errors.New("settlement failed, retryable")
	// ErrRejected marks a structural failure that must not be retried.
	ErrRejected = errors.New("settlement rejected")
)

// Kind distinguishes what is being settled.
type Kind string

const (
	KindPayout     Kind = "payout"
	KindWithdrawal Kind = "withdrawal"
)

// Request is one settlement submission. Key is the idempotency key; the
// settlement layer must treat a repeated key as the same transfer.
type Request struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	AccountID string          `json:"account_id"`
	EpochID   uint64          `json:"epoch_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// State is the settlement layer's view of a key.
type State string

const (
	StateConfirmed State = "confirmed"
	StateRejected  State = "rejected"
	StateInFlight  State = "in-flight"
)

// Receipt is a settlement acknowledgement.
type Receipt struct {
	Key       string `json:"key"`
	Reference string `json:"reference"`
	State     State  `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// Settler submits transfers. Submit returns a confirmed receipt, or an error
// wrapping ErrRetryable or ErrRejected. Any other error is treated as retryable.
// Status reports what the layer knows about key; found is false if the key
// was never received.
type Settler interface {
	Submit(ctx context.Context, req Request) (Receipt, error)
	Status(ctx context.Context, key string) (rcpt Receipt, found bool, err error)
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRejected)
}
