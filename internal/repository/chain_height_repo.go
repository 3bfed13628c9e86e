package repository

import (
	"context"
	"errors"

	"catpoints/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChainHeightRepository struct {
	db *gorm.DB
}

func NewChainHeightRepository(db *gorm.DB) *ChainHeightRepository {
	return &ChainHeightRepository{db: db}
}

// Upsert 刷新某条链的索引高度，只允许前进
func (r *ChainHeightRepository) Upsert(ctx context.Context, chainID string, height int64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"height": gorm.Expr("GREATEST(height, ?)", height)}),
		}).
		Create(&model.ChainHeightIndex{ChainID: chainID, Height: height}).Error
}

// GetHeight 读取某条链最近一次跟踪到的高度，没有记录时返回 0
func (r *ChainHeightRepository) GetHeight(ctx context.Context, chainID string) (int64, error) {
	var record model.ChainHeightIndex
	err := r.db.WithContext(ctx).Where("chain_id = ?", chainID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return record.Height, nil
}
