// Package ledger is the authoritative record of staked balances. It enforces
// the lock period and the early withdrawal penalty.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/pkg/keylock"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Default ledger configuration constants.
const (
	defaultLockPeriod = 30 * 24 * time.Hour
	defaultPenalty    = "0.015"
	defaultPrecision  = 6
)

// MutateFunc changes acct in place and returns the audit records to persist
// with it. exists is false for an account that has never been stored; a nil
// change with a nil error persists only the account.
type MutateFunc func(acct *model.Account, exists bool) (*model.AccountChange, error)

// Store persists accounts transactionally.
type Store interface {
	// MutateAccount loads the account, applies fn and writes the account and its
	// change in one transaction. Nothing is written when fn fails.
	MutateAccount(ctx context.Context, accountID string, fn MutateFunc) (*model.Account, error)
	// GetAccount returns nil, nil for an unknown account.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	ListStakeEvents(ctx context.Context, accountID string) ([]model.StakeEvent, error)
}

// Release is the outcome of an unstake.
type Release struct {
	Account    *model.Account
	Released   decimal.Decimal
	Penalty    decimal.Decimal
	Withdrawal *model.Withdrawal // nil when nothing is left to release
}

// Ledger serializes mutations per account and never lets a balance go negative.
type Ledger struct {
	store       Store
	locks       *keylock.Locker
	lockPeriod  time.Duration
	penaltyRate decimal.Decimal
	precision   int32
	now         func() time.Time
	newID       func() string
	logger      logger.Logger
}

// New creates a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		locks:       keylock.New(),
		lockPeriod:  defaultLockPeriod,
		penaltyRate: decimal.RequireFromString(defaultPenalty),
		precision:   defaultPrecision,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.Get().Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stake adds amount to the balance of accountID. The first stake from a zero
// balance starts a new lock period.
func (l *Ledger) Stake(ctx context.Context, accountID string, amount decimal.Decimal) (*model.Account, error) {
	const op = "stake"
	if err := l.checkInput(accountID, amount); err != nil {
		metrics.RecordStakeFailure(op, reason(err))
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	now := l.now().UTC()
	acct, err := l.store.MutateAccount(ctx, accountID, func(a *model.Account, exists bool) (*model.AccountChange, error) {
		if !exists {
			a.ID = accountID
			a.Balance = decimal.Zero
			a.CreatedAt = now
		}
		if a.Balance.IsZero() {
			a.StakedAt = now
			a.LockUntil = now.Add(l.lockPeriod)
		}
		a.Balance = a.Balance.Add(amount)
		return &model.AccountChange{Event: model.StakeEvent{
			AccountID:    accountID,
			Kind:         model.StakeEventStake,
			Amount:       amount,
			Penalty:      decimal.Zero,
			Released:     decimal.Zero,
			BalanceAfter: a.Balance,
			At:           now,
		}}, nil
	})
	if err != nil {
		metrics.RecordStakeFailure(op, reason(err))
		return nil, fmt.Errorf("%s %s: %w", op, accountID, err)
	}

	metrics.RecordStakeOperation(op)
	l.logger.Info(ctx, "staked",
		logger.String("account", accountID),
		logger.String("amount", amount.String()),
		logger.String("balance", acct.Balance.String()),
	)
	return acct, nil
}

// Unstake withdraws amount from accountID. Inside the lock period the penalty
// rate is withheld from the released amount; the released amount is rounded
// down to the settlement unit and the remainder is the penalty.
func (l *Ledger) Unstake(ctx context.Context, accountID string, amount decimal.Decimal) (*Release, error) {
	const op = "unstake"
	if err := l.checkInput(accountID, amount); err != nil {
		metrics.RecordStakeFailure(op, reason(err))
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	now := l.now().UTC()
	rel := &Release{}
	acct, err := l.store.MutateAccount(ctx, accountID, func(a *model.Account, exists bool) (*model.AccountChange, error) {
		if !exists || amount.GreaterThan(a.Balance) {
			return nil, ErrInsufficientBalance
		}
		released := amount
		if a.Locked(now) {
			released = amount.Mul(decimal.NewFromInt(1).Sub(l.penaltyRate)).Truncate(l.precision)
		}
		penalty := amount.Sub(released)

		balance := a.Balance.Sub(amount)
		if balance.IsNegative() {
			return nil, errNegativeBalance
		}
		a.Balance = balance

		rel.Released, rel.Penalty = released, penalty
		change := &model.AccountChange{Event: model.StakeEvent{
			AccountID:    accountID,
			Kind:         model.StakeEventUnstake,
			Amount:       amount,
			Penalty:      penalty,
			Released:     released,
			BalanceAfter: balance,
			At:           now,
		}}
		if released.IsPositive() {
			change.Withdrawal = &model.Withdrawal{
				ID:        l.newID(),
				AccountID: accountID,
				Amount:    released,
				Penalty:   penalty,
				Status:    model.StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			rel.Withdrawal = change.Withdrawal
		}
		return change, nil
	})
	if err != nil {
		metrics.RecordStakeFailure(op, reason(err))
		return nil, fmt.Errorf("%s %s: %w", op, accountID, err)
	}
	rel.Account = acct

	metrics.RecordStakeOperation(op)
	if rel.Penalty.IsPositive() {
		metrics.RecordPenalty()
	}
	l.logger.Info(ctx, "unstaked",
		logger.String("account", accountID),
		logger.String("amount", amount.String()),
		logger.String("released", rel.Released.String()),
		logger.String("penalty", rel.Penalty.String()),
		logger.String("balance", acct.Balance.String()),
	)
	return rel, nil
}

// LinkIdentity records the opaque external identity of an existing account.
// Later epochs fetch the account's activity under ref. Linking again replaces
// the previous identity.
func (l *Ledger) LinkIdentity(ctx context.Context, accountID, ref string) (*model.Account, error) {
	if accountID == "" {
		return nil, ErrInvalidAccount
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrInvalidIdentity)
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	acct, err := l.store.MutateAccount(ctx, accountID, func(a *model.Account, exists bool) (*model.AccountChange, error) {
		if !exists {
			return nil, ErrUnknownAccount
		}
		a.ExternalRef = ref
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", accountID, err)
	}
	l.logger.Info(ctx, "identity linked",
		logger.String("account", accountID),
		logger.String("external_ref", ref),
	)
	return acct, nil
}

// BalanceOf returns the balance of accountID; unknown accounts have zero
// balance and are not created.
func (l *Ledger) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := l.Account(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if acct == nil {
		return decimal.Zero, nil
	}
	return acct.Balance, nil
}

// Account returns the stored account, or nil for an unknown one.
func (l *Ledger) Account(ctx context.Context, accountID string) (*model.Account, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return acct, nil
}

// History returns the stake audit trail of accountID, oldest first.
func (l *Ledger) History(ctx context.Context, accountID string) ([]model.StakeEvent, error) {
	events, err := l.store.ListStakeEvents(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", accountID, err)
	}
	return events, nil
}

func (l *Ledger) checkInput(accountID string, amount decimal.Decimal) error {
	if accountID == "" {
		return ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Truncate(l.precision)) {
		return fmt.Errorf("%w: %s is finer than %d decimal places", ErrInvalidAmount, amount.String(), l.precision)
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "store"
	}
}
