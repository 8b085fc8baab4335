// Package reward computes per-epoch payouts from a closed leaderboard and the
// stake observed for the epoch.
package reward

import (
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/shopspring/decimal"
)

const year = 365 * 24 * time.Hour

// StakeView exposes the stake balances a computation reads.
type StakeView interface {
	BalanceOf(accountID string) decimal.Decimal
}

// Balances is a fixed StakeView.
type Balances map[string]decimal.Decimal

// BalanceOf implements StakeView; unknown accounts have zero balance.
func (b Balances) BalanceOf(accountID string) decimal.Decimal {
	if v, ok := b[accountID]; ok {
		return v
	}
	return decimal.Zero
}

// BalancesFromScores rebuilds the stake view recorded with an epoch's scores.
func BalancesFromScores(scores []model.EpochScore) Balances {
	b := make(Balances, len(scores))
	for _, s := range scores {
		b[s.AccountID] = s.Balance
	}
	return b
}

// Rates are the deployment reward parameters.
type Rates struct {
	BaseAnnual    decimal.Decimal
	EpochLength   time.Duration
	BonusPerPoint decimal.Decimal
	RewardedRanks int   // bonus window size; 0 pays a bonus to every rank
	Precision     int32 // decimal places of the settlement minimum unit
}

// Calculator turns snapshots into pending payouts.
type Calculator struct {
	rates        Rates
	ratePerEpoch decimal.Decimal
}

// NewCalculator prorates the annual base rate to the epoch length.
func NewCalculator(r Rates) *Calculator {
	perEpoch := r.BaseAnnual.
		Mul(decimal.NewFromInt(int64(r.EpochLength))).
		Div(decimal.NewFromInt(int64(year)))
	return &Calculator{rates: r, ratePerEpoch: perEpoch}
}

// RatePerEpoch returns the prorated base rate.
func (c *Calculator) RatePerEpoch() decimal.Decimal {
	return c.ratePerEpoch
}

// ComputePayouts emits one pending payout per ranked account with a positive
// balance and a positive total. The exact total is truncated to the settlement
// unit once; Base is the truncated base yield and Bonus the remainder, so
// Base + Bonus = Total.
func (c *Calculator) ComputePayouts(epochID model.EpochID, snap *model.Snapshot, view StakeView) []model.Payout {
	out := make([]model.Payout, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		balance := view.BalanceOf(e.AccountID)
		if !balance.IsPositive() {
			continue
		}
		exactBase := balance.Mul(c.ratePerEpoch)
		exactBonus := decimal.Zero
		if c.inWindow(e.Rank) && e.Score.IsPositive() {
			exactBonus = e.Score.Mul(c.rates.BonusPerPoint)
		}
		base := exactBase.Truncate(c.rates.Precision)
		total := exactBase.Add(exactBonus).Truncate(c.rates.Precision)
		bonus := total.Sub(base)
		if !total.IsPositive() {
			continue
		}
		out = append(out, model.Payout{
			AccountID: e.AccountID,
			EpochID:   epochID,
			Rank:      e.Rank,
			Base:      base,
			Bonus:     bonus,
			Total:     total,
			Status:    model.StatusPending,
		})
	}
	return out
}

func (c *Calculator) inWindow(rank int) bool {
	return c.rates.RewardedRanks <= 0 || rank <= c.rates.RewardedRanks
}
