package repository

import (
	"context"
	"fmt"

	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var unresolvedStatuses = []string{
	string(model.StatusPending),
	string(model.StatusSubmitted),
	string(model.StatusFailedRetryable),
}

// InsertPayouts stores payouts, skipping any (account, epoch) that already has
// one. It returns the number of new records.
func (s *SQLStore) InsertPayouts(ctx context.Context, payouts []model.Payout) (int, error) {
	if len(payouts) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	rows := make([]Payout, len(payouts))
	for i := range payouts {
		rows[i] = payoutRow(&payouts[i])
		rows[i].CreatedAt, rows[i].UpdatedAt = now, now
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// GetPayout returns nil, nil when no payout exists for (account, epoch).
func (s *SQLStore) GetPayout(ctx context.Context, accountID string, epochID model.EpochID) (*model.Payout, error) {
	var row Payout
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND epoch_id = ?", accountID, epochID).
		First(&row).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	p := row.toModel()
	return &p, nil
}

// ListEpochPayouts returns the payouts of epochID ordered by rank.
func (s *SQLStore) ListEpochPayouts(ctx context.Context, epochID model.EpochID) ([]model.Payout, error) {
	return s.listPayouts(s.db.WithContext(ctx).Where("epoch_id = ?", epochID).Order("rank ASC, account_id ASC"))
}

// ListAccountPayouts returns the payouts of accountID, newest epoch first.
func (s *SQLStore) ListAccountPayouts(ctx context.Context, accountID string) ([]model.Payout, error) {
	return s.listPayouts(s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("epoch_id DESC"))
}

// ListUnresolvedPayouts returns payouts that are neither confirmed nor
// failed-terminal, oldest epoch first.
func (s *SQLStore) ListUnresolvedPayouts(ctx context.Context) ([]model.Payout, error) {
	return s.listPayouts(s.db.WithContext(ctx).
		Where("status IN ?", unresolvedStatuses).
		Order("epoch_id ASC, rank ASC"))
}

// ListFailedPayouts returns failed-terminal payouts, optionally of one epoch.
func (s *SQLStore) ListFailedPayouts(ctx context.Context, epochID *model.EpochID) ([]model.Payout, error) {
	q := s.db.WithContext(ctx).Where("status = ?", string(model.StatusFailedTerminal))
	if epochID != nil {
		q = q.Where("epoch_id = ?", *epochID)
	}
	return s.listPayouts(q.Order("epoch_id ASC, rank ASC"))
}

// CountPayoutsByStatus returns the number of payouts per status.
func (s *SQLStore) CountPayoutsByStatus(ctx context.Context) (map[model.PayoutStatus]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := s.db.WithContext(ctx).
		Model(&Payout{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[model.PayoutStatus]int64, len(rows))
	for _, r := range rows {
		out[model.PayoutStatus(r.Status)] = r.N
	}
	return out, nil
}

func (s *SQLStore) listPayouts(q *gorm.DB) ([]model.Payout, error) {
	var rows []Payout
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Payout, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// TransitionPayout moves the payout of (account, epoch) from -> to when its
// stored status is still from. mutate may adjust bookkeeping fields; the
// amounts are never rewritten.
func (s *SQLStore) TransitionPayout(ctx context.Context, accountID string, epochID model.EpochID, from, to model.PayoutStatus, mutate func(*model.Payout)) (*model.Payout, error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	var out model.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Payout
		if err := tx.Where("account_id = ? AND epoch_id = ?", accountID, epochID).First(&row).Error; err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: payout %s", ErrNotFound, model.PayoutKey(accountID, epochID))
			}
			return err
		}
		if model.PayoutStatus(row.Status) != from {
			return fmt.Errorf("%w: payout %s is %s, not %s",
				ErrInvalidTransition, model.PayoutKey(accountID, epochID), row.Status, from)
		}
		p := row.toModel()
		p.Status = to
		if mutate != nil {
			mutate(&p)
		}
		p.UpdatedAt = s.now().UTC()
		res := tx.Model(&Payout{}).
			Where("id = ? AND status = ?", row.ID, string(from)).
			Updates(map[string]any{
				"status":          string(p.Status),
				"attempts":        p.Attempts,
				"last_error":      p.LastError,
				"settlement_ref":  p.SettlementRef,
				"next_attempt_at": p.NextAttemptAt,
				"updated_at":      p.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: payout %s changed concurrently", ErrInvalidTransition, model.PayoutKey(accountID, epochID))
		}
		out = p
		out.Base, out.Bonus, out.Total = row.Base, row.Bonus, row.Total
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
