// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a staking participant. Accounts are zeroed, never deleted.
type Account struct {
	ID          string
	ExternalRef string // opaque link to the contributor identity
	Balance     decimal.Decimal
	StakedAt    time.Time // start of the current lock; reset when staking from zero
	LockUntil   time.Time
	CreatedAt   time.Time
}

// Locked reports whether a withdrawal at now falls inside the lock period.
func (a *Account) Locked(now time.Time) bool {
	return now.Before(a.LockUntil)
}

// StakeEventKind distinguishes audit entries.
type StakeEventKind string

const (
	StakeEventStake   StakeEventKind = "stake"
	StakeEventUnstake StakeEventKind = "unstake"
)

// StakeEvent is the audit record written with every ledger mutation.
type StakeEvent struct {
	ID           uint64
	AccountID    string
	Kind         StakeEventKind
	Amount       decimal.Decimal
	Penalty      decimal.Decimal
	Released     decimal.Decimal
	BalanceAfter decimal.Decimal
	At           time.Time
}

// Withdrawal is a released unstake amount awaiting settlement.
type Withdrawal struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	Penalty   decimal.Decimal
	Status    PayoutStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key is the settlement idempotency key of the withdrawal.
func (w *Withdrawal) Key() string {
	return "withdrawal:" + w.ID
}

// AccountChange is what a ledger mutation persists atomically with the account.
type AccountChange struct {
	Event      StakeEvent
	Withdrawal *Withdrawal
}
