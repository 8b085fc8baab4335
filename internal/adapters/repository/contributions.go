package repository

import (
	"context"

	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// SaveContributions stores recs, ignoring any whose (account, dedup key) is
// already known. It returns the number of newly stored records.
func (s *SQLStore) SaveContributions(ctx context.Context, recs []model.ContributionRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	rows := make([]Contribution, len(recs))
	for i, r := range recs {
		rows[i] = Contribution{
			AccountID:  r.AccountID,
			DedupKey:   r.DedupKey,
			Kind:       r.Kind,
			Weight:     r.Weight,
			SourceTime: r.SourceTime.UTC(),
			CreatedAt:  now,
		}
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// ListContributions returns the stored records of accountID inside w.
func (s *SQLStore) ListContributions(ctx context.Context, accountID string, w model.Window) ([]model.ContributionRecord, error) {
	var rows []Contribution
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND source_time >= ? AND source_time < ?", accountID, w.Start.UTC(), w.End.UTC()).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.ContributionRecord, 0, len(rows))
	for i := range rows {
		rec := rows[i].toModel()
		if w.Contains(rec.SourceTime) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CountContributions returns the number of stored records.
func (s *SQLStore) CountContributions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Contribution{}).Count(&n).Error
	return n, err
}
