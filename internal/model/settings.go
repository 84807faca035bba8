package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 贷记单处理策略
const (
	CreditNoteStrategyAutomatic = "AUTOMATIC" // 退款后自动开具
	CreditNoteStrategyManual    = "MANUAL"    // 生成待处理记录，等人工确认
	CreditNoteStrategyStub      = "STUB"      // 只留存根，不调用开票渠道（线下处理场景）
)

// BillingSettings 商户开票配置表
// 每个商户同一时刻只允许一行 active=true，激活新配置必须同事务内
// 先把旧行置为非激活（见 SettingsRepository.SetActive）
type BillingSettings struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID             int64           `gorm:"index;not null" json:"tenant_id"`
	CompanyTaxID         string          `gorm:"type:varchar(20);not null" json:"company_tax_id"` // 商户 CUIT
	CompanyLegalName     string          `gorm:"type:varchar(128);not null" json:"company_legal_name"`
	PointOfSale          int             `gorm:"not null" json:"point_of_sale"`                     // 开票点编码
	InvoiceDocType       int             `gorm:"not null" json:"invoice_doc_type"`                  // 发票种类编码
	VATRate              decimal.Decimal `gorm:"type:decimal(5,4);not null;column:vat_rate" json:"vat_rate"` // 默认税率，如 0.21
	BillOnlyWhenPaid     bool            `gorm:"not null;default:true" json:"bill_only_when_paid"`
	RequireConfirmation  bool            `gorm:"not null;default:false" json:"require_confirmation"`
	DefaultFinalConsumer bool            `gorm:"not null;default:true" json:"default_final_consumer"` // 证件缺失时是否按最终消费者兜底
	FinalConsumerDoc     string          `gorm:"type:varchar(20);not null;default:'0'" json:"final_consumer_doc"`
	CreditNoteStrategy   string          `gorm:"type:varchar(16);not null;default:AUTOMATIC" json:"credit_note_strategy"`
	WebhookSecret        string          `gorm:"type:varchar(128);index;not null" json:"-"` // webhook 签名密钥，同时是多租户路由键
	Active               bool            `gorm:"index;not null;default:false" json:"active"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingSettings) TableName() string {
	return "billing_settings"
}
