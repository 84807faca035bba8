package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易状态机
// ============================================================================
//
// 【状态流转】
//
//   PENDING -> AUTHORIZED -> PAID -> {PENDING_BILLING_CONFIRMATION | NO_BILLING_REQUIRED}
//                  |           |
//                  v           v
//               FAILED     REFUNDED
//
// 【关键点】为什么同状态重放是成功的空操作？
//
// 支付渠道会重复投递 webhook（网络抖动、未收到 2xx 都会触发重投）。
// 如果把重复事件当成错误，渠道会无限重试，日志也会被刷爆。
// 所以：目标状态 == 当前状态 时直接返回成功，什么都不做。
//
// ============================================================================

const (
	TxStatusPending             = "PENDING"
	TxStatusAuthorized          = "AUTHORIZED"
	TxStatusPaid                = "PAID"
	TxStatusPendingConfirmation = "PENDING_BILLING_CONFIRMATION"
	TxStatusNoBillingRequired   = "NO_BILLING_REQUIRED"
	TxStatusRefunded            = "REFUNDED"
	TxStatusFailed              = "FAILED"
)

const (
	BillingStatusPending = "PENDING"
	BillingStatusBilled  = "BILLED"
)

// ValidStatusTransitions 交易状态转移表
// PENDING 可以直接到 PAID：部分渠道不会单独推送 authorized 事件
var ValidStatusTransitions = map[string][]string{
	TxStatusPending:             {TxStatusAuthorized, TxStatusPaid, TxStatusFailed},
	TxStatusAuthorized:          {TxStatusPaid, TxStatusFailed, TxStatusRefunded},
	TxStatusPaid:                {TxStatusPendingConfirmation, TxStatusNoBillingRequired, TxStatusRefunded},
	TxStatusPendingConfirmation: {TxStatusPaid, TxStatusRefunded},
}

// CanTransitionTo 判断状态转移是否合法
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
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

// IsNoopTransition 同状态重放，视为成功的空操作
func IsNoopTransition(currentStatus, targetStatus string) bool {
	return currentStatus == targetStatus
}

// Transaction 交易表
// 一行代表一次支付尝试，以渠道侧 external_id 做全局唯一约束
// 状态只能通过状态机流转，不允许直接改写
type Transaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_id"` // 渠道侧支付ID，幂等的真正依据
	TenantID         int64           `gorm:"index;not null" json:"tenant_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(8);not null;default:ARS" json:"currency"`
	Status           string          `gorm:"type:varchar(32);index;not null" json:"status"`
	CustomerDoc      string          `gorm:"type:varchar(20)" json:"customer_doc"` // 客户税号/证件号，可为空
	InvoiceNumber    string          `gorm:"type:varchar(32)" json:"invoice_number"`
	InvoiceCAE       string          `gorm:"type:varchar(20);column:invoice_cae" json:"invoice_cae"`
	CreditNoteNumber string          `gorm:"type:varchar(32)" json:"credit_note_number"`
	CreditNoteCAE    string          `gorm:"type:varchar(20);column:credit_note_cae" json:"credit_note_cae"`
	BillingStatus    string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"billing_status"`
	CapturedAt       *time.Time      `json:"captured_at"`
	RefundedAt       *time.Time      `json:"refunded_at"`
	Reconciled       bool            `gorm:"not null;default:false" json:"reconciled"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}
