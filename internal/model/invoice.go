package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 开票凭证状态（发票和贷记单共用）
const (
	VoucherStatusPending = "PENDING" // 已创建，尚未提交或提交失败待重试
	VoucherStatusSent    = "SENT"    // 渠道已受理，拿到 CAE
	VoucherStatusError   = "ERROR"   // 渠道拒绝或传输失败，由对账任务重试
	VoucherStatusStub    = "STUB"    // 存根模式，不走渠道
)

// Invoice 发票表
// 每笔交易至多一张有效发票（transaction_id 唯一约束兜底）
// 核心流程只创建和更新，永不删除，保证审计可追溯
type Invoice struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID   int64           `gorm:"uniqueIndex;not null" json:"transaction_id"`
	TenantID        int64           `gorm:"index;not null" json:"tenant_id"`
	Status          string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"status"`
	Number          string          `gorm:"type:varchar(32)" json:"number"`
	CAE             string          `gorm:"type:varchar(20);column:cae" json:"cae"` // 税务机关授权码
	NetAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	VATAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;column:vat_amount" json:"vat_amount"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	RequestPayload  string          `gorm:"type:text" json:"request_payload"`
	ResponsePayload string          `gorm:"type:text" json:"response_payload"`
	ErrorMessages   string          `gorm:"type:text" json:"error_messages"`
	PDFURL          string          `gorm:"type:varchar(256);column:pdf_url" json:"pdf_url"`
	IssuedAt        *time.Time      `json:"issued_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}

// CreditNote 贷记单表
// 结构与发票对称，退款路径产出；同一笔交易至多一张
type CreditNote struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID   int64           `gorm:"uniqueIndex;not null" json:"transaction_id"`
	TenantID        int64           `gorm:"index;not null" json:"tenant_id"`
	Status          string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"status"`
	Number          string          `gorm:"type:varchar(32)" json:"number"`
	CAE             string          `gorm:"type:varchar(20);column:cae" json:"cae"`
	NetAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	VATAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;column:vat_amount" json:"vat_amount"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	RequestPayload  string          `gorm:"type:text" json:"request_payload"`
	ResponsePayload string          `gorm:"type:text" json:"response_payload"`
	ErrorMessages   string          `gorm:"type:text" json:"error_messages"`
	PDFURL          string          `gorm:"type:varchar(256);column:pdf_url" json:"pdf_url"`
	IssuedAt        *time.Time      `json:"issued_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditNote) TableName() string {
	return "credit_note"
}
