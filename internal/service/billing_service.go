package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"billsystem/internal/config"
	"billsystem/internal/infrastructure/lock"
	"billsystem/internal/model"
	"billsystem/internal/provider"
	"billsystem/internal/repository"
	"billsystem/pkg/cuit"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 开票编排
// ============================================================================
//
// 【关键点】本服务的所有入口都不向外抛未处理异常：
// 无论渠道拒绝、超时还是落库失败，统一折叠成结构化的 Outcome，
// 调用方（webhook 接入 / 对账任务 / 人工确认）只需记录并继续。
// 开票失败的交易 billing_status 保持 PENDING，由对账任务兜底重试。
//
// ============================================================================

// 开票结果
const (
	BillingResultBilled       = "BILLED"                // 开票成功
	BillingResultAlreadyBill  = "ALREADY_BILLED"        // 已开过，幂等空操作
	BillingResultSkipped      = "SKIPPED"               // 策略判定跳过（如未支付）
	BillingResultAwaitConfirm = "AWAITING_CONFIRMATION" // 等待人工确认
	BillingResultNoBilling    = "NO_BILLING"            // 商户无需开票
	BillingResultError        = "ERROR"                 // 渠道拒绝/不可用，等对账重试
)

// 贷记单结果
const (
	CreditNoteResultIssued        = "ISSUED"
	CreditNoteResultStub          = "STUB"           // 存根模式，不走渠道
	CreditNoteResultManualPending = "MANUAL_PENDING" // 等人工处理
	CreditNoteResultAlreadyIssued = "ALREADY_ISSUED"
	CreditNoteResultError         = "ERROR"
)

// BillingOutcome 开票编排的结构化结果
type BillingOutcome struct {
	Result        string   `json:"result"`
	InvoiceNumber string   `json:"invoice_number,omitempty"`
	CAE           string   `json:"cae,omitempty"`
	Messages      []string `json:"messages,omitempty"`
}

// CreditNoteOutcome 贷记单编排结果
type CreditNoteOutcome struct {
	Result   string   `json:"result"`
	Number   string   `json:"number,omitempty"`
	CAE      string   `json:"cae,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

type BillingService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	invoicingClient provider.InvoicingClient
	transactionRepo *repository.TransactionRepository
	settingsRepo    *repository.SettingsRepository
	invoiceRepo     *repository.InvoiceRepository
	creditNoteRepo  *repository.CreditNoteRepository
	outboxRepo      *repository.OutboxRepository
}

func NewBillingService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, invoicingClient provider.InvoicingClient) *BillingService {
	return &BillingService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		invoicingClient: invoicingClient,
		transactionRepo: repository.NewTransactionRepository(db),
		settingsRepo:    repository.NewSettingsRepository(db),
		invoiceRepo:     repository.NewInvoiceRepository(db),
		creditNoteRepo:  repository.NewCreditNoteRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// ConfirmBilling 人工确认开票
// 只接受处于待确认状态的交易：先转回 PAID，再绕过确认门槛走正常开票
func (s *BillingService) ConfirmBilling(ctx context.Context, externalID string) (*BillingOutcome, error) {
	trans, err := s.transactionRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if trans.Status != model.TxStatusPendingConfirmation {
		return nil, fmt.Errorf("交易状态不允许确认开票，当前状态: %s", trans.Status)
	}

	// 防止运营端连点并发触发
	confirmLock := lock.NewConfirmLock(s.redisClient, externalID)
	if err := confirmLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer confirmLock.Unlock(ctx)

	settings, err := s.settingsRepo.GetActiveByTenant(ctx, trans.TenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrSettingsNotFound) {
			return nil, fmt.Errorf("查询商户配置失败: %w", err)
		}
		settings = nil
	}

	err = s.transactionRepo.UpdateStatus(ctx, nil, externalID,
		model.TxStatusPendingConfirmation, model.TxStatusPaid, nil)
	if err != nil && err != repository.ErrStatusConflict {
		return nil, err
	}

	trans, err = s.transactionRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	return s.OnTransactionPaid(ctx, trans, settings, true), nil
}

// ComputeNetVAT 从含税总额反算净额和税额
// net = total / (1 + rate)，vat = total - net，保留两位小数
func ComputeNetVAT(total, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	net := total.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	vat := total.Sub(net)
	return net, vat
}

// ResolveCounterpart 确定开票对手方
// 证件缺失/全零/等于商户的最终消费者标识 -> 按最终消费者（99）开
// 否则按 CUIT 校验位分类为税号（80）或国民证件（96）
func ResolveCounterpart(customerDoc string, settings *model.BillingSettings) (provider.InvoiceCustomer, error) {
	docType := cuit.ClassifyDocType(customerDoc, settings.FinalConsumerDoc)
	if docType == cuit.DocTypeFinalConsumer {
		if !settings.DefaultFinalConsumer {
			return provider.InvoiceCustomer{}, fmt.Errorf("客户证件缺失且商户未启用最终消费者兜底")
		}
		return provider.InvoiceCustomer{
			DocType: cuit.DocTypeFinalConsumer,
			DocNo:   settings.FinalConsumerDoc,
		}, nil
	}
	return provider.InvoiceCustomer{
		DocType: docType,
		DocNo:   strings.TrimSpace(customerDoc),
	}, nil
}

// BuildInvoiceRequest 构造开票请求：单行项目，reference 记渠道支付ID
func BuildInvoiceRequest(trans *model.Transaction, settings *model.BillingSettings, customer provider.InvoiceCustomer) *provider.InvoiceRequest {
	net, vat := ComputeNetVAT(trans.Amount, settings.VATRate)
	return &provider.InvoiceRequest{
		Header: provider.InvoiceHeader{
			CompanyTaxID: settings.CompanyTaxID,
			PointOfSale:  settings.PointOfSale,
			DocType:      settings.InvoiceDocType,
		},
		Customer: customer,
		Items: []provider.InvoiceLineItem{
			{
				Description: fmt.Sprintf("交易 %s", trans.ExternalID),
				Reference:   trans.ExternalID,
				NetAmount:   net,
				VATAmount:   vat,
				TotalAmount: trans.Amount,
			},
		},
	}
}

// OnTransactionPaid 交易到达 PAID 后的开票决策
// bypassConfirmation 仅人工确认入口置 true
func (s *BillingService) OnTransactionPaid(ctx context.Context, trans *model.Transaction, settings *model.BillingSettings, bypassConfirmation bool) *BillingOutcome {
	// 幂等：已开票直接返回
	if trans.BillingStatus == model.BillingStatusBilled {
		return &BillingOutcome{
			Result:        BillingResultAlreadyBill,
			InvoiceNumber: trans.InvoiceNumber,
			CAE:           trans.InvoiceCAE,
		}
	}

	// 商户没有激活配置 -> 无需开票，标记 BILLED 让对账不再扫到
	if settings == nil || !settings.Active {
		if err := s.markNoBillingRequired(ctx, trans); err != nil {
			log.Printf("[BillingService] 标记免开票失败: externalID=%s, err=%v", trans.ExternalID, err)
			return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
		}
		return &BillingOutcome{Result: BillingResultNoBilling}
	}

	if settings.BillOnlyWhenPaid && trans.Status != model.TxStatusPaid {
		return &BillingOutcome{Result: BillingResultSkipped}
	}

	// 需要人工确认：挂起，等确认接口再进来
	if settings.RequireConfirmation && !bypassConfirmation {
		err := s.transactionRepo.UpdateStatus(ctx, nil, trans.ExternalID,
			model.TxStatusPaid, model.TxStatusPendingConfirmation, nil)
		if err != nil && err != repository.ErrStatusConflict {
			return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
		}
		return &BillingOutcome{Result: BillingResultAwaitConfirm}
	}

	customer, err := ResolveCounterpart(trans.CustomerDoc, settings)
	if err != nil {
		// 证件问题不可自动恢复，留 PENDING 让人工修正后由对账重试
		log.Printf("[BillingService] 对手方解析失败: externalID=%s, err=%v", trans.ExternalID, err)
		return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
	}

	req := BuildInvoiceRequest(trans, settings, customer)
	reqPayload, _ := json.Marshal(req)

	// 复用已有发票行（上次 ERROR 的重试），否则新建
	invoice, err := s.invoiceRepo.GetByTransactionID(ctx, trans.ID)
	if err != nil {
		return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
	}
	if invoice != nil && invoice.Status == model.VoucherStatusSent {
		return &BillingOutcome{
			Result:        BillingResultAlreadyBill,
			InvoiceNumber: invoice.Number,
			CAE:           invoice.CAE,
		}
	}
	if invoice == nil {
		net, vat := ComputeNetVAT(trans.Amount, settings.VATRate)
		invoice = &model.Invoice{
			TransactionID:  trans.ID,
			TenantID:       trans.TenantID,
			Status:         model.VoucherStatusPending,
			NetAmount:      net,
			VATAmount:      vat,
			TotalAmount:    trans.Amount,
			RequestPayload: string(reqPayload),
		}
		if err := s.invoiceRepo.Create(ctx, nil, invoice); err != nil {
			return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
		}
	}

	result, err := s.invoicingClient.SubmitInvoice(ctx, req)
	if err != nil {
		// 传输失败（含超时）：记 ERROR，billing_status 保持 PENDING
		log.Printf("[BillingService] 开票渠道调用失败: externalID=%s, err=%v", trans.ExternalID, err)
		if markErr := s.invoiceRepo.MarkError(ctx, nil, invoice.ID, err.Error(), ""); markErr != nil {
			log.Printf("[BillingService] 回写发票失败状态失败: invoiceID=%d, err=%v", invoice.ID, markErr)
		}
		return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
	}

	respPayload, _ := json.Marshal(result)

	if !result.Success {
		// 渠道业务拒绝：留痕，等对账重试
		log.Printf("[BillingService] 开票被渠道拒绝: externalID=%s, messages=%v", trans.ExternalID, result.Messages)
		if markErr := s.invoiceRepo.MarkError(ctx, nil, invoice.ID, strings.Join(result.Messages, "; "), string(respPayload)); markErr != nil {
			log.Printf("[BillingService] 回写发票拒绝状态失败: invoiceID=%d, err=%v", invoice.ID, markErr)
		}
		return &BillingOutcome{Result: BillingResultError, Messages: result.Messages}
	}

	// 开票成功：发票回写 + 交易翻转 BILLED + outbox 同事务落库
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invoiceRepo.MarkSent(ctx, tx, invoice.ID, result.Number, result.CAE, result.PDFURL, string(respPayload)); err != nil {
			return fmt.Errorf("回写发票失败: %w", err)
		}
		if err := s.transactionRepo.MarkBilled(ctx, tx, trans.ID, result.Number, result.CAE); err != nil {
			return fmt.Errorf("回写交易计费状态失败: %w", err)
		}
		return s.writeOutbox(ctx, tx, trans, "invoice.issued", map[string]interface{}{
			"number": result.Number,
			"cae":    result.CAE,
		})
	})
	if err != nil {
		log.Printf("[BillingService] 开票成功但落库失败: externalID=%s, err=%v", trans.ExternalID, err)
		return &BillingOutcome{Result: BillingResultError, Messages: []string{err.Error()}}
	}

	log.Printf("[BillingService] 开票成功: externalID=%s, number=%s, cae=%s", trans.ExternalID, result.Number, result.CAE)

	return &BillingOutcome{
		Result:        BillingResultBilled,
		InvoiceNumber: result.Number,
		CAE:           result.CAE,
	}
}

// OnTransactionRefunded 退款后的贷记单决策，按商户策略分流
func (s *BillingService) OnTransactionRefunded(ctx context.Context, trans *model.Transaction, settings *model.BillingSettings) *CreditNoteOutcome {
	// 幂等：同一笔交易至多一张贷记单
	existing, err := s.creditNoteRepo.GetByTransactionID(ctx, trans.ID)
	if err != nil {
		return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
	}
	if existing != nil {
		// ERROR 状态且策略为自动时允许复用原行重试，其余一律视为已开具
		if existing.Status == model.VoucherStatusError && settings != nil &&
			settings.CreditNoteStrategy == model.CreditNoteStrategyAutomatic {
			net, vat := ComputeNetVAT(trans.Amount, settings.VATRate)
			return s.issueCreditNote(ctx, trans, settings, existing, net, vat)
		}
		return &CreditNoteOutcome{
			Result: CreditNoteResultAlreadyIssued,
			Number: existing.Number,
			CAE:    existing.CAE,
		}
	}

	if settings == nil || !settings.Active {
		return &CreditNoteOutcome{Result: CreditNoteResultStub}
	}

	net, vat := ComputeNetVAT(trans.Amount, settings.VATRate)

	switch settings.CreditNoteStrategy {
	case model.CreditNoteStrategyStub:
		note := &model.CreditNote{
			TransactionID: trans.ID,
			TenantID:      trans.TenantID,
			Status:        model.VoucherStatusStub,
			NetAmount:     net,
			VATAmount:     vat,
			TotalAmount:   trans.Amount,
		}
		if err := s.creditNoteRepo.Create(ctx, nil, note); err != nil {
			return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
		}
		return &CreditNoteOutcome{Result: CreditNoteResultStub}

	case model.CreditNoteStrategyManual:
		note := &model.CreditNote{
			TransactionID: trans.ID,
			TenantID:      trans.TenantID,
			Status:        model.VoucherStatusPending,
			NetAmount:     net,
			VATAmount:     vat,
			TotalAmount:   trans.Amount,
		}
		if err := s.creditNoteRepo.Create(ctx, nil, note); err != nil {
			return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
		}
		return &CreditNoteOutcome{Result: CreditNoteResultManualPending}

	default: // AUTOMATIC
		return s.issueCreditNote(ctx, trans, settings, nil, net, vat)
	}
}

func (s *BillingService) issueCreditNote(ctx context.Context, trans *model.Transaction, settings *model.BillingSettings, note *model.CreditNote, net, vat decimal.Decimal) *CreditNoteOutcome {
	customer, err := ResolveCounterpart(trans.CustomerDoc, settings)
	if err != nil {
		return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
	}

	req := BuildInvoiceRequest(trans, settings, customer)
	reqPayload, _ := json.Marshal(req)

	if note == nil {
		note = &model.CreditNote{
			TransactionID:  trans.ID,
			TenantID:       trans.TenantID,
			Status:         model.VoucherStatusPending,
			NetAmount:      net,
			VATAmount:      vat,
			TotalAmount:    trans.Amount,
			RequestPayload: string(reqPayload),
		}
		if err := s.creditNoteRepo.Create(ctx, nil, note); err != nil {
			return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
		}
	}

	result, err := s.invoicingClient.SubmitCreditNote(ctx, req)
	if err != nil {
		log.Printf("[BillingService] 贷记单渠道调用失败: externalID=%s, err=%v", trans.ExternalID, err)
		if markErr := s.creditNoteRepo.MarkError(ctx, nil, note.ID, err.Error(), ""); markErr != nil {
			log.Printf("[BillingService] 回写贷记单失败状态失败: noteID=%d, err=%v", note.ID, markErr)
		}
		return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
	}

	respPayload, _ := json.Marshal(result)

	if !result.Success {
		log.Printf("[BillingService] 贷记单被渠道拒绝: externalID=%s, messages=%v", trans.ExternalID, result.Messages)
		if markErr := s.creditNoteRepo.MarkError(ctx, nil, note.ID, strings.Join(result.Messages, "; "), string(respPayload)); markErr != nil {
			log.Printf("[BillingService] 回写贷记单拒绝状态失败: noteID=%d, err=%v", note.ID, markErr)
		}
		return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: result.Messages}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.creditNoteRepo.MarkSent(ctx, tx, note.ID, result.Number, result.CAE, result.PDFURL, string(respPayload)); err != nil {
			return fmt.Errorf("回写贷记单失败: %w", err)
		}
		if err := s.transactionRepo.MarkCreditNoted(ctx, tx, trans.ID, result.Number, result.CAE); err != nil {
			return fmt.Errorf("回写交易贷记单信息失败: %w", err)
		}
		return s.writeOutbox(ctx, tx, trans, "credit_note.issued", map[string]interface{}{
			"number": result.Number,
			"cae":    result.CAE,
		})
	})
	if err != nil {
		log.Printf("[BillingService] 贷记单成功但落库失败: externalID=%s, err=%v", trans.ExternalID, err)
		return &CreditNoteOutcome{Result: CreditNoteResultError, Messages: []string{err.Error()}}
	}

	log.Printf("[BillingService] 贷记单开具成功: externalID=%s, number=%s", trans.ExternalID, result.Number)

	return &CreditNoteOutcome{
		Result: CreditNoteResultIssued,
		Number: result.Number,
		CAE:    result.CAE,
	}
}

// markNoBillingRequired 免开票：状态转 NO_BILLING_REQUIRED 且计费状态置 BILLED
func (s *BillingService) markNoBillingRequired(ctx context.Context, trans *model.Transaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		err := s.transactionRepo.UpdateStatus(ctx, tx, trans.ExternalID,
			trans.Status, model.TxStatusNoBillingRequired, nil)
		if err != nil && err != repository.ErrStatusConflict {
			return err
		}
		return s.transactionRepo.MarkBilledSkip(ctx, tx, trans.ID)
	})
}

func (s *BillingService) writeOutbox(ctx context.Context, tx *gorm.DB, trans *model.Transaction, eventType string, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"event_type":  eventType,
		"external_id": trans.ExternalID,
		"tenant_id":   trans.TenantID,
		"amount":      trans.Amount,
		"currency":    trans.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: trans.ExternalID,
		Topic:      s.cfg.Kafka.Topic.BillingResult,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}
