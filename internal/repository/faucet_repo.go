package repository

import (
	"context"
	"errors"
	"time"

	"catpoints/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrClaimConflict 状态 CAS 没命中
	ErrClaimConflict = errors.New("领取记录状态流转冲突")
)

type FaucetRepository struct {
	db *gorm.DB
}

func NewFaucetRepository(db *gorm.DB) *FaucetRepository {
	return &FaucetRepository{db: db}
}

func (r *FaucetRepository) GetByAddress(ctx context.Context, address string) (*model.FaucetClaim, error) {
	var claim model.FaucetClaim
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&claim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &claim, nil
}

func (r *FaucetRepository) Create(ctx context.Context, claim *model.FaucetClaim) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

// Reactivate 失败的领取允许重新发起：复位为 CREATED 并换新的领取单号
func (r *FaucetRepository) Reactivate(ctx context.Context, address, claimNo string) error {
	result := r.db.WithContext(ctx).
		Model(&model.FaucetClaim{}).
		Where("address = ? AND status = ?", address, model.FaucetStatusFailed).
		Updates(map[string]interface{}{
			"claim_no":       claimNo,
			"status":         model.FaucetStatusCreated,
			"transaction_id": "",
			"error_message":  "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimConflict
	}
	return nil
}

func (r *FaucetRepository) MarkSubmitted(ctx context.Context, address, txID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.FaucetClaim{}).
		Where("address = ? AND status = ?", address, model.FaucetStatusCreated).
		Updates(map[string]interface{}{
			"status":         model.FaucetStatusSubmitted,
			"transaction_id": txID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimConflict
	}
	return nil
}

func (r *FaucetRepository) MarkMined(ctx context.Context, tx *gorm.DB, address string) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.FaucetClaim{}).
		Where("address = ? AND status = ?", address, model.FaucetStatusSubmitted).
		Updates(map[string]interface{}{
			"status":   model.FaucetStatusMined,
			"mined_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimConflict
	}
	return nil
}

func (r *FaucetRepository) MarkFailed(ctx context.Context, tx *gorm.DB, address, errorMessage string) error {
	if tx == nil {
		tx = r.db
	}
	if len(errorMessage) > 512 {
		errorMessage = errorMessage[:512]
	}
	result := tx.WithContext(ctx).
		Model(&model.FaucetClaim{}).
		Where("address = ? AND status IN ?", address, []string{model.FaucetStatusCreated, model.FaucetStatusSubmitted}).
		Updates(map[string]interface{}{
			"status":        model.FaucetStatusFailed,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimConflict
	}
	return nil
}

// ListSubmitted 查询已提交待确认的领取记录
func (r *FaucetRepository) ListSubmitted(ctx context.Context, limit int) ([]*model.FaucetClaim, error) {
	var claims []*model.FaucetClaim
	err := r.db.WithContext(ctx).
		Where("status = ?", model.FaucetStatusSubmitted).
		Order("created_at ASC").
		Limit(limit).
		Find(&claims).Error
	return claims, err
}
