package model

import (
	"time"
)

// ReconciliationLog 对账运行记录表
// 每个商户每次对账跑批追加一行，只追加不修改
// detail 字段存 JSON 明细（受影响交易及各自结果），便于人工跟进
type ReconciliationLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunNo          string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"run_no"`
	TenantID       int64     `gorm:"index;not null" json:"tenant_id"`
	WindowStart    time.Time `gorm:"not null" json:"window_start"`
	WindowEnd      time.Time `gorm:"not null" json:"window_end"`
	ProcessedCount int       `gorm:"not null;default:0" json:"processed_count"`
	ErrorCount     int       `gorm:"not null;default:0" json:"error_count"`
	OrphanCount    int       `gorm:"not null;default:0" json:"orphan_count"`
	Rate           float64   `gorm:"not null;default:1" json:"rate"` // 1 - error/processed，processed=0 时为 1
	Detail         string    `gorm:"type:text" json:"detail"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ReconciliationLog) TableName() string {
	return "reconciliation_log"
}
