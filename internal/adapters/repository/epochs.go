package repository

import (
	"context"

	"github.com/okian/yieldboard/internal/domain/model"
	"gorm.io/gorm"
)

// GetEpochRun returns nil, nil for an epoch that never started.
func (s *SQLStore) GetEpochRun(ctx context.Context, epochID model.EpochID) (*model.EpochRun, error) {
	var row EpochRun
	if err := s.db.WithContext(ctx).Where("epoch_id = ?", epochID).First(&row).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	run := row.toModel()
	return &run, nil
}

// AdvanceEpoch records that epochID completed stage. Stages never move
// backwards; an older stage is ignored.
func (s *SQLStore) AdvanceEpoch(ctx context.Context, epochID model.EpochID, stage model.EpochStage) (*model.EpochRun, error) {
	var out model.EpochRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		var row EpochRun
		err := tx.Where("epoch_id = ?", epochID).First(&row).Error
		switch {
		case notFound(err):
			row = EpochRun{EpochID: epochID, Stage: string(stage), StartedAt: now, UpdatedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case !model.EpochStage(row.Stage).Reached(stage):
			// Save would insert on a zero primary key, and epoch 0 is valid.
			if err := tx.Model(&EpochRun{}).
				Where("epoch_id = ?", epochID).
				Updates(map[string]any{"stage": string(stage), "updated_at": now}).Error; err != nil {
				return err
			}
			row.Stage = string(stage)
			row.UpdatedAt = now
		}
		out = row.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LatestEpochRun returns the run of the newest started epoch, or nil.
func (s *SQLStore) LatestEpochRun(ctx context.Context) (*model.EpochRun, error) {
	var row EpochRun
	if err := s.db.WithContext(ctx).Order("epoch_id DESC").First(&row).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	run := row.toModel()
	return &run, nil
}

// LatestDistributedEpoch returns the newest epoch whose payouts were all created
// and submitted at least once.
func (s *SQLStore) LatestDistributedEpoch(ctx context.Context) (model.EpochID, bool, error) {
	var row EpochRun
	if err := s.db.WithContext(ctx).
		Where("stage = ?", string(model.StageDistributed)).
		Order("epoch_id DESC").
		First(&row).Error; err != nil {
		if notFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.EpochID, true, nil
}

func (r *EpochRun) toModel() model.EpochRun {
	return model.EpochRun{
		EpochID:   r.EpochID,
		Stage:     model.EpochStage(r.Stage),
		StartedAt: r.StartedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
