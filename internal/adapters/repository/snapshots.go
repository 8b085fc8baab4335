package repository

import (
	"context"
	"fmt"

	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm"
)

// GetSnapshot returns nil, nil while the epoch is open.
func (s *SQLStore) GetSnapshot(ctx context.Context, epochID model.EpochID) (*model.Snapshot, error) {
	var head LeaderboardSnapshot
	db := s.db.WithContext(ctx)
	if err := db.Where("epoch_id = ?", epochID).First(&head).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rows []LeaderboardEntry
	if err := db.Where("epoch_id = ?", epochID).Order("rank ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	snap := &model.Snapshot{
		EpochID:  head.EpochID,
		Digest:   head.Digest,
		ClosedAt: head.ClosedAt,
		Entries:  make([]model.RankedEntry, len(rows)),
	}
	for i, r := range rows {
		snap.Entries[i] = model.RankedEntry{Rank: r.Rank, AccountID: r.AccountID, Score: r.Score}
	}
	return snap, nil
}

// SaveSnapshot writes a snapshot and its entries. A second snapshot for the
// same epoch fails with ErrConflict.
func (s *SQLStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&LeaderboardSnapshot{}).Where("epoch_id = ?", snap.EpochID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: snapshot of epoch %d", ErrConflict, snap.EpochID)
		}
		head := LeaderboardSnapshot{
			EpochID:  snap.EpochID,
			Digest:   snap.Digest,
			Size:     len(snap.Entries),
			ClosedAt: snap.ClosedAt.UTC(),
		}
		if err := tx.Create(&head).Error; err != nil {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		if len(snap.Entries) == 0 {
			return nil
		}
		rows := make([]LeaderboardEntry, len(snap.Entries))
		for i, e := range snap.Entries {
			rows[i] = LeaderboardEntry{EpochID: snap.EpochID, Rank: e.Rank, AccountID: e.AccountID, Score: e.Score}
		}
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
}

// LatestClosedEpoch returns the newest epoch with a snapshot.
func (s *SQLStore) LatestClosedEpoch(ctx context.Context) (model.EpochID, bool, error) {
	var head LeaderboardSnapshot
	if err := s.db.WithContext(ctx).Order("epoch_id DESC").First(&head).Error; err != nil {
		if notFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return head.EpochID, true, nil
}
