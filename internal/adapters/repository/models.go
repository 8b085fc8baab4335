package repository

import (
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Amounts and scores are stored as decimal text so they round-trip exactly.

type Account struct {
	ID          string          `gorm:"primaryKey;size:128"`
	ExternalRef string          `gorm:"size:256"`
	Balance     decimal.Decimal `gorm:"type:text;not null"`
	StakedAt    time.Time
	LockUntil   time.Time
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

func (Account) TableName() string { return "account" }

type StakeEvent struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement"`
	AccountID    string          `gorm:"index;size:128;not null"`
	Kind         string          `gorm:"size:16;not null"`
	Amount       decimal.Decimal `gorm:"type:text;not null"`
	Penalty      decimal.Decimal `gorm:"type:text;not null"`
	Released     decimal.Decimal `gorm:"type:text;not null"`
	BalanceAfter decimal.Decimal `gorm:"type:text;not null"`
	At           time.Time
}

func (StakeEvent) TableName() string { return "stake_event" }

type Withdrawal struct {
	ID        string          `gorm:"primaryKey;size:64"`
	AccountID string          `gorm:"index;size:128;not null"`
	Amount    decimal.Decimal `gorm:"type:text;not null"`
	Penalty   decimal.Decimal `gorm:"type:text;not null"`
	Status    string          `gorm:"index;size:32;not null"`
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Withdrawal) TableName() string { return "withdrawal" }

type Contribution struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	AccountID  string    `gorm:"uniqueIndex:idx_contribution_key;size:128;not null"`
	DedupKey   string    `gorm:"uniqueIndex:idx_contribution_key;size:256;not null"`
	Kind       string    `gorm:"size:64;not null"`
	Weight     float64   `gorm:"not null"`
	SourceTime time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (Contribution) TableName() string { return "contribution" }

type EpochScore struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement"`
	AccountID        string          `gorm:"uniqueIndex:idx_score_account_epoch;size:128;not null"`
	EpochID          uint64          `gorm:"uniqueIndex:idx_score_account_epoch;index;not null"`
	Score            decimal.Decimal `gorm:"type:text;not null"`
	Balance          decimal.Decimal `gorm:"type:text;not null"`
	AccountCreatedAt time.Time
	Counted          int
	Skipped          int
	Degraded         bool
	UpdatedAt        time.Time
}

func (EpochScore) TableName() string { return "epoch_score" }

type LeaderboardSnapshot struct {
	EpochID  uint64 `gorm:"primaryKey;autoIncrement:false"`
	Digest   string `gorm:"size:64;not null"`
	Size     int
	ClosedAt time.Time
}

func (LeaderboardSnapshot) TableName() string { return "leaderboard_snapshot" }

type LeaderboardEntry struct {
	EpochID   uint64          `gorm:"uniqueIndex:idx_entry_epoch_rank;not null"`
	Rank      int             `gorm:"uniqueIndex:idx_entry_epoch_rank;not null"`
	AccountID string          `gorm:"index;size:128;not null"`
	Score     decimal.Decimal `gorm:"type:text;not null"`
}

func (LeaderboardEntry) TableName() string { return "leaderboard_entry" }

type Payout struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	AccountID     string          `gorm:"uniqueIndex:idx_payout_account_epoch;size:128;not null"`
	EpochID       uint64          `gorm:"uniqueIndex:idx_payout_account_epoch;index;not null"`
	Rank          int
	Base          decimal.Decimal `gorm:"type:text;not null"`
	Bonus         decimal.Decimal `gorm:"type:text;not null"`
	Total         decimal.Decimal `gorm:"type:text;not null"`
	Status        string          `gorm:"index;size:32;not null"`
	Attempts      int
	LastError     string
	SettlementRef string `gorm:"size:128"`
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Payout) TableName() string { return "payout" }

type EpochRun struct {
	EpochID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Stage     string `gorm:"size:16;not null"`
	StartedAt time.Time
	UpdatedAt time.Time
}

func (EpochRun) TableName() string { return "epoch_run" }

// MigrateModels lists every table created by Open.
var MigrateModels = []any{
	&Account{},
	&StakeEvent{},
	&Withdrawal{},
	&Contribution{},
	&EpochScore{},
	&LeaderboardSnapshot{},
	&LeaderboardEntry{},
	&Payout{},
	&EpochRun{},
}

func (a *Account) toModel() model.Account {
	return model.Account{
		ID:          a.ID,
		ExternalRef: a.ExternalRef,
		Balance:     a.Balance,
		StakedAt:    a.StakedAt,
		LockUntil:   a.LockUntil,
		CreatedAt:   a.CreatedAt,
	}
}

func accountRow(a *model.Account) Account {
	return Account{
		ID:          a.ID,
		ExternalRef: a.ExternalRef,
		Balance:     a.Balance,
		StakedAt:    a.StakedAt,
		LockUntil:   a.LockUntil,
		CreatedAt:   a.CreatedAt,
	}
}

func (e *StakeEvent) toModel() model.StakeEvent {
	return model.StakeEvent{
		ID:           e.ID,
		AccountID:    e.AccountID,
		Kind:         model.StakeEventKind(e.Kind),
		Amount:       e.Amount,
		Penalty:      e.Penalty,
		Released:     e.Released,
		BalanceAfter: e.BalanceAfter,
		At:           e.At,
	}
}

func stakeEventRow(e *model.StakeEvent) StakeEvent {
	return StakeEvent{
		AccountID:    e.AccountID,
		Kind:         string(e.Kind),
		Amount:       e.Amount,
		Penalty:      e.Penalty,
		Released:     e.Released,
		BalanceAfter: e.BalanceAfter,
		At:           e.At,
	}
}

func (w *Withdrawal) toModel() model.Withdrawal {
	return model.Withdrawal{
		ID:        w.ID,
		AccountID: w.AccountID,
		Amount:    w.Amount,
		Penalty:   w.Penalty,
		Status:    model.PayoutStatus(w.Status),
		Attempts:  w.Attempts,
		LastError: w.LastError,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func withdrawalRow(w *model.Withdrawal) Withdrawal {
	return Withdrawal{
		ID:        w.ID,
		AccountID: w.AccountID,
		Amount:    w.Amount,
		Penalty:   w.Penalty,
		Status:    string(w.Status),
		Attempts:  w.Attempts,
		LastError: w.LastError,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func (c *Contribution) toModel() model.ContributionRecord {
	return model.ContributionRecord{
		AccountID:  c.AccountID,
		Kind:       c.Kind,
		Weight:     c.Weight,
		SourceTime: c.SourceTime,
		DedupKey:   c.DedupKey,
	}
}

func (s *EpochScore) toModel() model.EpochScore {
	return model.EpochScore{
		AccountID:        s.AccountID,
		EpochID:          s.EpochID,
		Score:            s.Score,
		Balance:          s.Balance,
		AccountCreatedAt: s.AccountCreatedAt,
		Counted:          s.Counted,
		Skipped:          s.Skipped,
		Degraded:         s.Degraded,
	}
}

func (p *Payout) toModel() model.Payout {
	return model.Payout{
		AccountID:     p.AccountID,
		EpochID:       p.EpochID,
		Rank:          p.Rank,
		Base:          p.Base,
		Bonus:         p.Bonus,
		Total:         p.Total,
		Status:        model.PayoutStatus(p.Status),
		Attempts:      p.Attempts,
		LastError:     p.LastError,
		SettlementRef: p.SettlementRef,
		NextAttemptAt: p.NextAttemptAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func payoutRow(p *model.Payout) Payout {
	return Payout{
		AccountID:     p.AccountID,
		EpochID:       p.EpochID,
		Rank:          p.Rank,
		Base:          p.Base,
		Bonus:         p.Bonus,
		Total:         p.Total,
		Status:        string(p.Status),
		Attempts:      p.Attempts,
		LastError:     p.LastError,
		SettlementRef: p.SettlementRef,
		NextAttemptAt: p.NextAttemptAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
