package repository

import (
	"context"
	"errors"

	"catpoints/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("积分记录不存在")
	// ErrRecordClaimed CAS 更新没命中：记录已被别的批次占用或状态已流转
	ErrRecordClaimed = errors.New("积分记录已被占用或状态不匹配")
)

type PointRecordRepository struct {
	db *gorm.DB
}

func NewPointRecordRepository(db *gorm.DB) *PointRecordRepository {
	return &PointRecordRepository{db: db}
}

func (r *PointRecordRepository) GetByID(ctx context.Context, id string) (*model.PointDailyRecord, error) {
	var record model.PointDailyRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *PointRecordRepository) Create(ctx context.Context, record *model.PointDailyRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// SaveUnsettled 回写累计结果，只有记录仍未被任何批次占用时才生效
// 桶 actor 只在本进程内串行，多实例部署下别的实例的结算周期可能在
// 读改写窗口里把记录划进批次，带旧状态条件做 CAS，占用不会被覆盖回去。
func (r *PointRecordRepository) SaveUnsettled(ctx context.Context, record *model.PointDailyRecord) error {
	result := r.db.WithContext(ctx).
		Model(&model.PointDailyRecord{}).
		Where("id = ? AND status = ? AND (biz_id IS NULL OR biz_id = '')", record.ID, model.PointRecordStatusUnsettled).
		Updates(map[string]interface{}{
			"point_amount":       record.PointAmount,
			"holder_balance_ids": record.HolderBalanceID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordClaimed
	}
	return nil
}

// ListUnsettled 查询尚未进入任何批次的记录，按创建时间升序保证批次组合确定
func (r *PointRecordRepository) ListUnsettled(ctx context.Context, chainID, pointName, bizDate string, offset, limit int) ([]*model.PointDailyRecord, error) {
	var records []*model.PointDailyRecord
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND point_name = ? AND biz_date = ?", chainID, pointName, bizDate).
		Where("status = ? AND (biz_id IS NULL OR biz_id = '')", model.PointRecordStatusUnsettled).
		Where("point_amount > 0").
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ListPending 查询已进入批次但结果尚未回写的记录（恢复扫描用）
func (r *PointRecordRepository) ListPending(ctx context.Context, chainID string, offset, limit int) ([]*model.PointDailyRecord, error) {
	var records []*model.PointDailyRecord
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND status = ? AND biz_id <> ''", chainID, model.PointRecordStatusPending).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *PointRecordRepository) ListByBizID(ctx context.Context, bizID string) ([]*model.PointDailyRecord, error) {
	var records []*model.PointDailyRecord
	err := r.db.WithContext(ctx).
		Where("biz_id = ?", bizID).
		Find(&records).Error
	return records, err
}

// ClaimForBatch 把一条未结算记录划入批次（写入 BizID 并置 PENDING）
// WHERE 条件带上旧状态做 CAS：两个并发周期最多一个能占到这条记录。
func (r *PointRecordRepository) ClaimForBatch(ctx context.Context, id, bizID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.PointDailyRecord{}).
		Where("id = ? AND status = ? AND (biz_id IS NULL OR biz_id = '')", id, model.PointRecordStatusUnsettled).
		Updates(map[string]interface{}{
			"biz_id": bizID,
			"status": model.PointRecordStatusPending,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordClaimed
	}
	return nil
}

// ReleaseClaim 把占用后未能派发的记录放回未结算（批次号必须匹配）
func (r *PointRecordRepository) ReleaseClaim(ctx context.Context, id, bizID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.PointDailyRecord{}).
		Where("id = ? AND biz_id = ? AND status = ?", id, bizID, model.PointRecordStatusPending).
		Updates(map[string]interface{}{
			"biz_id": "",
			"status": model.PointRecordStatusUnsettled,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordClaimed
	}
	return nil
}

// UpdateStatus 批次结果回写（PENDING -> SETTLED/FAILED），同样走 CAS
func (r *PointRecordRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id, bizID, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.PointDailyRecord{}).
		Where("id = ? AND biz_id = ? AND status = ?", id, bizID, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordClaimed
	}
	return nil
}
