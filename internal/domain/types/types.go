// Package types contains the read shapes returned by the service surface.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry represents a leaderboard entry.
type Entry struct {
	Rank      int             `json:"rank"`
	AccountID string          `json:"account_id"`
	Score     decimal.Decimal `json:"score"`
	EpochID   uint64          `json:"epoch_id"`
}

// Balance is the stake position of an account.
type Balance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	LockUntil *time.Time      `json:"lock_until,omitempty"`
}

// Release is the outcome of an unstake.
type Release struct {
	AccountID    string          `json:"account_id"`
	Released     decimal.Decimal `json:"released"`
	Penalty      decimal.Decimal `json:"penalty"`
	Balance      decimal.Decimal `json:"balance"`
	WithdrawalID string          `json:"withdrawal_id"`
}

// HistoryItem is one stake audit entry.
type HistoryItem struct {
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Penalty      decimal.Decimal `json:"penalty"`
	Released     decimal.Decimal `json:"released"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	At           time.Time       `json:"at"`
}

// Identity links an account to the contributor identity its activity is
// recorded under.
type Identity struct {
	AccountID   string `json:"account_id"`
	ExternalRef string `json:"external_ref"`
}

// Score is the stored epoch score of one account.
type Score struct {
	AccountID string          `json:"account_id"`
	EpochID   uint64          `json:"epoch_id"`
	Score     decimal.Decimal `json:"score"`
	Balance   decimal.Decimal `json:"balance"`
	Counted   int             `json:"counted"`
	Skipped   int             `json:"skipped"`
	Degraded  bool            `json:"degraded"`
}

// Payout is the read shape of a payout record.
type Payout struct {
	AccountID string          `json:"account_id"`
	EpochID   uint64          `json:"epoch_id"`
	Rank      int             `json:"rank,omitempty"`
	Base      decimal.Decimal `json:"base"`
	Bonus     decimal.Decimal `json:"bonus"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// EpochReport summarizes one epoch run.
type EpochReport struct {
	EpochID    uint64 `json:"epoch_id"`
	Stage      string `json:"stage"`
	Accounts   int    `json:"accounts"`
	Payouts    int    `json:"payouts"`
	Confirmed  int    `json:"confirmed"`
	Terminal   int    `json:"failed_terminal"`
	Unresolved int    `json:"unresolved"`
	Degraded   int    `json:"degraded_accounts"`
}
