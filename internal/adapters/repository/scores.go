package repository

import (
	"context"
	"fmt"

	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveEpochScore inserts or replaces the score of an account for an open
// epoch. Scores of a closed epoch are immutable.
func (s *SQLStore) SaveEpochScore(ctx context.Context, score model.EpochScore) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var closed int64
		if err := tx.Model(&LeaderboardSnapshot{}).Where("epoch_id = ?", score.EpochID).Count(&closed).Error; err != nil {
			return err
		}
		if closed > 0 {
			return fmt.Errorf("%w: %d", ErrEpochClosed, score.EpochID)
		}
		row := EpochScore{
			AccountID:        score.AccountID,
			EpochID:          score.EpochID,
			Score:            score.Score,
			Balance:          score.Balance,
			AccountCreatedAt: score.AccountCreatedAt.UTC(),
			Counted:          score.Counted,
			Skipped:          score.Skipped,
			Degraded:         score.Degraded,
			UpdatedAt:        s.now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "epoch_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"score", "balance", "account_created_at", "counted", "skipped", "degraded", "updated_at",
			}),
		}).Create(&row).Error
	})
}

// ListEpochScores returns every stored score of epochID ordered by account.
func (s *SQLStore) ListEpochScores(ctx context.Context, epochID model.EpochID) ([]model.EpochScore, error) {
	var rows []EpochScore
	if err := s.db.WithContext(ctx).
		Where("epoch_id = ?", epochID).
		Order("account_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.EpochScore, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// GetEpochScore returns nil, nil when the account has no score for the epoch.
func (s *SQLStore) GetEpochScore(ctx context.Context, accountID string, epochID model.EpochID) (*model.EpochScore, error) {
	var row EpochScore
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND epoch_id = ?", accountID, epochID).
		First(&row).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	sc := row.toModel()
	return &sc, nil
}
