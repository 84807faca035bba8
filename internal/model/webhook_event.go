package model

import (
	"time"
)

// WebhookEvent 回调事件表
// 每次投递先落一行再处理，保证后续步骤崩溃也不会丢事件
//
// 【流水表设计原则】
// 1. 只追加，不修改，不删除 —— 只允许翻转 processed / orphan 两个标记
// 2. 原始报文原样留存 —— 对账和排查问题的唯一依据
type WebhookEvent struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DeliveryNo  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"delivery_no"` // 本地生成的投递号
	TenantID    int64      `gorm:"index;not null" json:"tenant_id"`
	Provider    string     `gorm:"type:varchar(32);not null" json:"provider"`
	ExternalID  string     `gorm:"type:varchar(64);index" json:"external_id"` // 解析出的渠道支付ID，解析失败时为空
	RawPayload  string     `gorm:"type:text;not null" json:"raw_payload"`
	Orphan      bool       `gorm:"index;not null;default:false" json:"orphan"` // 本地尚无对应交易，等对账任务重配
	Processed   bool       `gorm:"index;not null;default:false" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
