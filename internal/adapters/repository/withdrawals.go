package repository

import (
	"context"
	"fmt"

	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm"
)

// ListWithdrawals returns withdrawals in any of statuses, oldest first.
func (s *SQLStore) ListWithdrawals(ctx context.Context, statuses ...model.PayoutStatus) ([]model.Withdrawal, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	var rows []Withdrawal
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Withdrawal, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ListAccountWithdrawals returns the withdrawals of accountID, oldest first.
func (s *SQLStore) ListAccountWithdrawals(ctx context.Context, accountID string) ([]model.Withdrawal, error) {
	var rows []Withdrawal
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Withdrawal, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// TransitionWithdrawal moves withdrawal id from -> to when its stored status is
// still from. mutate may adjust bookkeeping fields of the new state.
func (s *SQLStore) TransitionWithdrawal(ctx context.Context, id string, from, to model.PayoutStatus, mutate func(*model.Withdrawal)) (*model.Withdrawal, error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	var out model.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Withdrawal
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: withdrawal %s", ErrNotFound, id)
			}
			return err
		}
		if model.PayoutStatus(row.Status) != from {
			return fmt.Errorf("%w: withdrawal %s is %s, not %s", ErrInvalidTransition, id, row.Status, from)
		}
		w := row.toModel()
		w.Status = to
		if mutate != nil {
			mutate(&w)
		}
		w.UpdatedAt = s.now().UTC()
		res := tx.Model(&Withdrawal{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(map[string]any{
				"status":     string(w.Status),
				"attempts":   w.Attempts,
				"last_error": w.LastError,
				"updated_at": w.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: withdrawal %s changed concurrently", ErrInvalidTransition, id)
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func statusStrings(statuses []model.PayoutStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
