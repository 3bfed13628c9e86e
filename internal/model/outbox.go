package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 事务性发件箱
// 事件行与状态流转写在同一个数据库事务里，由后台任务异步投递到 Kafka，
// 规避"先写库再发消息"的双写问题。
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// PointDailyRecordSettledEvent 积分记录结算完成事件（下游读模型消费）
type PointDailyRecordSettledEvent struct {
	RecordID string `json:"record_id"`
	BizID    string `json:"biz_id"`
	Status   string `json:"status"`
}

// FaucetClaimResultEvent 水龙头领取终态事件
type FaucetClaimResultEvent struct {
	ClaimNo       string `json:"claim_no"`
	Address       string `json:"address"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// ContractInvokeResultEvent 链上调用终态事件
type ContractInvokeResultEvent struct {
	BizID         string `json:"biz_id"`
	BizType       string `json:"biz_type"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	BlockHeight   int64  `json:"block_height"`
	ErrorMessage  string `json:"error_message,omitempty"`
}
