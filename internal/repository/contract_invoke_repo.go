package repository

import (
	"context"
	"errors"
	"time"

	"catpoints/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvokeConflict 状态 CAS 没命中：并发流转或状态回退被拒绝
	ErrInvokeConflict = errors.New("调用记录状态流转冲突")
)

type ContractInvokeRepository struct {
	db *gorm.DB
}

func NewContractInvokeRepository(db *gorm.DB) *ContractInvokeRepository {
	return &ContractInvokeRepository{db: db}
}

func (r *ContractInvokeRepository) Get(ctx context.Context, bizID string) (*model.ContractInvoke, error) {
	var invoke model.ContractInvoke
	err := r.db.WithContext(ctx).Where("biz_id = ?", bizID).First(&invoke).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoke, nil
}

// Create 幂等创建：BizID 已存在时静默跳过，由调用方重新 Get
func (r *ContractInvokeRepository) Create(ctx context.Context, invoke *model.ContractInvoke) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(invoke).Error
}

// MarkSubmitted 提交成功后立即持久化交易 id（重启后凭它续查，不会重复提交）
// 首次提交和超期重建共用：重建时 retry 加一。
func (r *ContractInvokeRepository) MarkSubmitted(ctx context.Context, bizID, txID string, resubmit bool) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":             model.InvokeStatusSubmitted,
		"transaction_id":     txID,
		"transaction_status": model.TxStatusPending,
		"submitted_at":       &now,
	}
	if resubmit {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}

	result := r.db.WithContext(ctx).
		Model(&model.ContractInvoke{}).
		Where("biz_id = ? AND status IN ?", bizID, []string{model.InvokeStatusCreated, model.InvokeStatusSubmitted}).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvokeConflict
	}
	return nil
}

// UpdateTransactionStatus 仅刷新链上报的原始状态，不动生命周期状态
func (r *ContractInvokeRepository) UpdateTransactionStatus(ctx context.Context, bizID, txStatus string) error {
	return r.db.WithContext(ctx).
		Model(&model.ContractInvoke{}).
		Where("biz_id = ?", bizID).
		Update("transaction_status", txStatus).Error
}

// IncrementRetry 瞬时失败计数
func (r *ContractInvokeRepository) IncrementRetry(ctx context.Context, bizID string) error {
	return r.db.WithContext(ctx).
		Model(&model.ContractInvoke{}).
		Where("biz_id = ?", bizID).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

// MarkSuccess 终态成功（记录块高），可附带事务句柄与发件箱写在一起
func (r *ContractInvokeRepository) MarkSuccess(ctx context.Context, tx *gorm.DB, bizID, txStatus string, blockHeight int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.ContractInvoke{}).
		Where("biz_id = ? AND status = ?", bizID, model.InvokeStatusSubmitted).
		Updates(map[string]interface{}{
			"status":             model.InvokeStatusSuccess,
			"transaction_status": txStatus,
			"block_height":       blockHeight,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvokeConflict
	}
	return nil
}

// MarkFailed 终态失败，链侧报错原样保留
func (r *ContractInvokeRepository) MarkFailed(ctx context.Context, tx *gorm.DB, bizID, txStatus, errorMessage string) error {
	if tx == nil {
		tx = r.db
	}
	if len(errorMessage) > 1024 {
		errorMessage = errorMessage[:1024]
	}
	result := tx.WithContext(ctx).
		Model(&model.ContractInvoke{}).
		Where("biz_id = ? AND status IN ?", bizID, []string{model.InvokeStatusCreated, model.InvokeStatusSubmitted}).
		Updates(map[string]interface{}{
			"status":             model.InvokeStatusFailed,
			"transaction_status": txStatus,
			"error_message":      errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvokeConflict
	}
	return nil
}

// ListUnfinished 查询未到终态的调用记录（恢复扫描用）
func (r *ContractInvokeRepository) ListUnfinished(ctx context.Context, limit int) ([]*model.ContractInvoke, error) {
	var invokes []*model.ContractInvoke
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.InvokeStatusCreated, model.InvokeStatusSubmitted}).
		Order("created_at ASC").
		Limit(limit).
		Find(&invokes).Error
	return invokes, err
}
