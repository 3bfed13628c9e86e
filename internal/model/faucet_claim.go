package model

import (
	"time"
)

const (
	FaucetStatusCreated   = "CREATED"
	FaucetStatusSubmitted = "SUBMITTED"
	FaucetStatusMined     = "MINED"
	FaucetStatusFailed    = "FAILED"
)

// FaucetClaim 测试币领取记录，每个地址只允许成功领取一次
// MINED 是永久终态；FAILED 允许重新发起（复用同一行，重置后再提交）。
type FaucetClaim struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ClaimNo       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"claim_no"`
	Address       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"address"`
	ChainID       string     `gorm:"type:varchar(20);not null" json:"chain_id"`
	Symbol        string     `gorm:"type:varchar(20);not null" json:"symbol"`
	Amount        int64      `gorm:"not null" json:"amount"`
	TransactionID string     `gorm:"type:varchar(64)" json:"transaction_id"`
	Status        string     `gorm:"type:varchar(20);index;not null;default:CREATED" json:"status"`
	ErrorMessage  string     `gorm:"type:varchar(512)" json:"error_message"`
	MinedAt       *time.Time `json:"mined_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FaucetClaim) TableName() string {
	return "faucet_claim"
}
