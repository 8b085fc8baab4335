package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the settlement state of a payout or withdrawal.
type PayoutStatus string

const (
	StatusPending         PayoutStatus = "pending"
	StatusSubmitted       PayoutStatus = "submitted"
	StatusConfirmed       PayoutStatus = "confirmed"
	StatusFailedRetryable PayoutStatus = "failed-retryable"
	StatusFailedTerminal  PayoutStatus = "failed-terminal"
)

// Resolved reports whether no further automatic transition will happen.
func (s PayoutStatus) Resolved() bool {
	return s == StatusConfirmed || s == StatusFailedTerminal
}

// CanTransition reports whether from -> to is an edge of the payout state machine.
// failed-terminal -> pending is reserved for operator redrive.
func CanTransition(from, to PayoutStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusSubmitted
	case StatusSubmitted:
		return to == StatusConfirmed || to == StatusFailedRetryable || to == StatusFailedTerminal
	case StatusFailedRetryable:
		return to == StatusSubmitted || to == StatusFailedTerminal
	case StatusFailedTerminal:
		return to == StatusPending
	default:
		return false
	}
}

// Payout is the reward of one account for one epoch.
type Payout struct {
	AccountID     string
	EpochID       EpochID
	Rank          int
	Base          decimal.Decimal
	Bonus         decimal.Decimal
	Total         decimal.Decimal
	Status        PayoutStatus
	Attempts      int
	LastError     string
	SettlementRef string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key is the settlement idempotency key derived from (account, epoch).
func (p *Payout) Key() string {
	return PayoutKey(p.AccountID, p.EpochID)
}

// PayoutKey formats the (account, epoch) idempotency key.
func PayoutKey(accountID string, epochID EpochID) string {
	return "epoch:" + strconv.FormatUint(epochID, 10) + ":" + accountID
}

func (p *Payout) String() string {
	return fmt.Sprintf("payout(%s, epoch %d, %s, %s)", p.AccountID, p.EpochID, p.Total.String(), p.Status)
}
