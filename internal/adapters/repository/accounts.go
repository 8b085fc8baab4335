package repository

import (
	"context"
	"fmt"

	"github.com/okian/yieldboard/internal/domain/ledger"
	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm"
)

// MutateAccount loads accountID, applies fn and writes the account together
// with its audit event and withdrawal in one transaction.
func (s *SQLStore) MutateAccount(ctx context.Context, accountID string, fn ledger.MutateFunc) (*model.Account, error) {
	var out model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Account
		exists := true
		if err := tx.Where("id = ?", accountID).First(&row).Error; err != nil {
			if !notFound(err) {
				return err
			}
			exists = false
		}
		acct := row.toModel()
		change, err := fn(&acct, exists)
		if err != nil {
			return err
		}

		next := accountRow(&acct)
		next.UpdatedAt = s.now().UTC()
		if exists {
			err = tx.Save(&next).Error
		} else {
			err = tx.Create(&next).Error
		}
		if err != nil {
			return fmt.Errorf("write account: %w", err)
		}

		if change != nil {
			ev := stakeEventRow(&change.Event)
			if err := tx.Create(&ev).Error; err != nil {
				return fmt.Errorf("write stake event: %w", err)
			}
			if change.Withdrawal != nil {
				w := withdrawalRow(change.Withdrawal)
				if err := tx.Create(&w).Error; err != nil {
					return fmt.Errorf("write withdrawal: %w", err)
				}
			}
		}
		out = next.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAccount returns nil, nil for an unknown account.
func (s *SQLStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var row Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&row).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	acct := row.toModel()
	return &acct, nil
}

// ListStakeEvents returns the audit trail of accountID, oldest first.
func (s *SQLStore) ListStakeEvents(ctx context.Context, accountID string) ([]model.StakeEvent, error) {
	var rows []StakeEvent
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.StakeEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ListStakedAccounts returns every account with a positive balance, ordered by id.
func (s *SQLStore) ListStakedAccounts(ctx context.Context) ([]model.Account, error) {
	var rows []Account
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(rows))
	for i := range rows {
		if rows[i].Balance.IsPositive() {
			out = append(out, rows[i].toModel())
		}
	}
	return out, nil
}

// CountAccounts returns the number of known accounts.
func (s *SQLStore) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Account{}).Count(&n).Error
	return n, err
}
