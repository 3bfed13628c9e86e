package model

import (
	"time"
)

// ChainHeightIndex 各链最新高度的跟踪记录
// 高度跟踪任务定期刷新，其他组件据此判断某高度是否已被索引，
// 不必各自去轮询链节点。
type ChainHeightIndex struct {
	ChainID   string    `gorm:"type:varchar(20);primaryKey" json:"chain_id"`
	Height    int64     `gorm:"not null;default:0" json:"height"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChainHeightIndex) TableName() string {
	return "chain_height_index"
}
