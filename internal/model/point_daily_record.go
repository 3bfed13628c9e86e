package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PointRecordStatusUnsettled = "UNSETTLED"
	PointRecordStatusPending   = "PENDING"
	PointRecordStatusSettled   = "SETTLED"
	PointRecordStatusFailed    = "FAILED"
)

var ValidPointRecordTransitions = map[string][]string{
	PointRecordStatusUnsettled: {PointRecordStatusPending},
	PointRecordStatusPending:   {PointRecordStatusSettled, PointRecordStatusFailed},
}

func PointRecordCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPointRecordTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PointDailyRecord 积分日累计记录
// 每个 (链, 积分名, 业务日期, 地址) 桶一行，累计当日待结算的积分。
//
// 记录主键由业务字段哈希得出，同一个桶不管谁来算都是同一个 key，
// 这个 key 同时就是幂等令牌。
//
// HolderBalanceIds 保存已折算进来的源事件 id 集合：同一个源事件最多计一次。
// BizId 一旦写入，本记录即被某次结算批次占用，之后只允许状态流转。
type PointDailyRecord struct {
	ID              string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	ChainID         string          `gorm:"type:varchar(20);index:idx_chain_status;not null" json:"chain_id"`
	PointName       string          `gorm:"type:varchar(64);index:idx_point_date;not null" json:"point_name"`
	BizDate         string          `gorm:"type:varchar(10);index:idx_point_date;not null" json:"biz_date"` // yyyy-MM-dd
	Address         string          `gorm:"type:varchar(64);index;not null" json:"address"`
	PointAmount     decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"point_amount"`
	HolderBalanceID string          `gorm:"column:holder_balance_ids;type:text" json:"holder_balance_ids"` // JSON 数组
	BizID           string          `gorm:"type:varchar(64);index" json:"biz_id"`
	Status          string          `gorm:"type:varchar(20);index:idx_chain_status;not null;default:UNSETTLED" json:"status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PointDailyRecord) TableName() string {
	return "point_daily_record"
}

// PointRecordID 由业务字段推导记录主键（幂等 key）
func PointRecordID(chainID, pointName, bizDate, address string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%s", chainID, pointName, bizDate, address)))
	return hex.EncodeToString(sum[:])
}

// SourceEventIDs 解析已折算的源事件 id 集合
func (r *PointDailyRecord) SourceEventIDs() []string {
	if r.HolderBalanceID == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.HolderBalanceID), &ids); err != nil {
		return nil
	}
	return ids
}

// ContainsSourceEvent 某个源事件是否已经计入
func (r *PointDailyRecord) ContainsSourceEvent(sourceEventID string) bool {
	for _, id := range r.SourceEventIDs() {
		if id == sourceEventID {
			return true
		}
	}
	return false
}

// AppendSourceEvent 记入一个新的源事件 id
func (r *PointDailyRecord) AppendSourceEvent(sourceEventID string) error {
	ids := append(r.SourceEventIDs(), sourceEventID)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	r.HolderBalanceID = string(data)
	return nil
}

// UserPointInfo 结算批次中一个地址的应付积分
type UserPointInfo struct {
	RecordID string          `json:"record_id"`
	Address  string          `json:"address"`
	Amount   decimal.Decimal `json:"amount"`
}

// PointSettleBatch 一次结算批次的载荷，只在一个派发周期内存在，不落库
type PointSettleBatch struct {
	ChainID    string          `json:"chain_id"`
	PointName  string          `json:"point_name"`
	BizID      string          `json:"biz_id"`
	BizDate    string          `json:"biz_date"`
	UserPoints []UserPointInfo `json:"user_points"`
}
