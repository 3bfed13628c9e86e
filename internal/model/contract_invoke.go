package model

import (
	"time"
)

const (
	InvokeStatusCreated   = "CREATED"
	InvokeStatusSubmitted = "SUBMITTED"
	InvokeStatusSuccess   = "SUCCESS"
	InvokeStatusFailed    = "FAILED"
)

// SUBMITTED -> SUBMITTED 对应超期重建交易后的再次提交
var ValidInvokeTransitions = map[string][]string{
	InvokeStatusCreated:   {InvokeStatusSubmitted, InvokeStatusFailed},
	InvokeStatusSubmitted: {InvokeStatusSubmitted, InvokeStatusSuccess, InvokeStatusFailed},
}

func InvokeCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidInvokeTransitions[currentStatus]
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

// InvokeStatusIsTerminal 是否终态
func InvokeStatusIsTerminal(status string) bool {
	return status == InvokeStatusSuccess || status == InvokeStatusFailed
}

// 链上报的原始交易状态（与本地生命周期状态是两回事）
const (
	TxStatusPending    = "PENDING"
	TxStatusMined      = "MINED"
	TxStatusFailed     = "FAILED"
	TxStatusNotExisted = "NOTEXISTED"
)

const (
	BizTypePointSettle = "POINT_SETTLE"
	BizTypeFaucet      = "FAUCET"
)

// ContractInvoke 一次链上调用的生命周期记录
// BizID 由调用方给定，是幂等 key：同一个 BizID 任何时刻至多一笔交易在途，
// 状态只向前流转，RetryCount 只在瞬时失败时递增。
//
// TransactionID 在提交后立即持久化，重启后凭它继续轮询而不是重复提交。
// ErrorMessage 原样保留链侧的报错信息，便于排查。
type ContractInvoke struct {
	BizID             string     `gorm:"column:biz_id;type:varchar(64);primaryKey" json:"biz_id"`
	ChainID           string     `gorm:"type:varchar(20);not null" json:"chain_id"`
	BizType           string     `gorm:"type:varchar(32);index;not null" json:"biz_type"`
	ContractAddress   string     `gorm:"type:varchar(64);not null" json:"contract_address"`
	ContractMethod    string     `gorm:"type:varchar(64);not null" json:"contract_method"`
	Sender            string     `gorm:"type:varchar(130);not null" json:"sender"` // 发送方公钥（hex）
	Param             string     `gorm:"type:text" json:"param"`                   // 序列化后的调用参数
	TransactionID     string     `gorm:"type:varchar(64);index" json:"transaction_id"`
	Status            string     `gorm:"type:varchar(20);index;not null;default:CREATED" json:"status"`
	TransactionStatus string     `gorm:"type:varchar(20)" json:"transaction_status"`
	BlockHeight       int64      `gorm:"not null;default:0" json:"block_height"`
	RetryCount        int        `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage      string     `gorm:"type:varchar(1024)" json:"error_message"`
	SubmittedAt       *time.Time `json:"submitted_at"` // 确认期限从这里起算
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ContractInvoke) TableName() string {
	return "contract_invoke"
}

// IsTerminal 是否已到终态
func (i *ContractInvoke) IsTerminal() bool {
	return InvokeStatusIsTerminal(i.Status)
}
