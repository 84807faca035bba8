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
	"billsystem/internal/model"
	"billsystem/internal/repository"
	"billsystem/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// Webhook 接入
// ============================================================================
//
// 【处理顺序】先落库再处理：
//   1. 投递原文立即写 webhook_event 表（未处理状态）
//   2. 解析报文 -> 找交易 -> 状态机流转 -> 触发开票/贷记单
//   3. 标记事件已处理
// 第 2、3 步任何一环崩溃，事件都已留痕；渠道收不到 2xx 会重投，
// 重投走同样的路径，靠状态机的幂等规则保证不会重复产生副作用。
//
// ============================================================================

var (
	ErrOrphanEvent = errors.New("本地无对应交易")
)

// 接入处理结果
const (
	IngestResultProcessed  = "PROCESSED"   // 状态流转完成
	IngestResultDuplicate  = "DUPLICATE"   // 重复投递，幂等空操作
	IngestResultOrphan     = "ORPHAN"      // 孤儿事件，等对账重配
	IngestResultIgnored    = "IGNORED"     // 非法转移，按空操作处理
	IngestResultParseError = "PARSE_ERROR" // 报文无法解析，已留痕
)

// IngestResult 一次投递的处理结果
type IngestResult struct {
	Result            string             `json:"result"`
	ExternalID        string             `json:"external_id,omitempty"`
	TransactionStatus string             `json:"transaction_status,omitempty"`
	BillingOutcome    *BillingOutcome    `json:"billing_outcome,omitempty"`
	CreditNoteOutcome *CreditNoteOutcome `json:"credit_note_outcome,omitempty"`
}

// webhookPayload 渠道回调报文（只消费这几个字段）
type webhookPayload struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"` // 部分渠道用 order_id 承载同一标识
	Result    struct {
		Status              string `json:"status"`
		TransactionDatetime string `json:"transactionDatetime"`
	} `json:"result"`
}

// ParseWebhookPayload 解析渠道报文，返回支付标识、渠道状态和交易时间
func ParseWebhookPayload(raw []byte) (string, string, *time.Time, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", nil, fmt.Errorf("报文解析失败: %w", err)
	}

	externalID := payload.PaymentID
	if externalID == "" {
		externalID = payload.OrderID
	}
	if externalID == "" {
		return "", "", nil, errors.New("报文缺少支付标识")
	}
	if payload.Result.Status == "" {
		return "", "", nil, errors.New("报文缺少状态字段")
	}

	var txTime *time.Time
	if payload.Result.TransactionDatetime != "" {
		if t, err := time.Parse(time.RFC3339, payload.Result.TransactionDatetime); err == nil {
			txTime = &t
		}
	}

	return externalID, payload.Result.Status, txTime, nil
}

// MapProviderStatus 渠道状态词表 -> 本地状态
// 不认识的渠道状态保守映射为 FAILED（只告警不抛错）；
// 状态机会拒绝对已结态交易的非法转移，所以误映射不会破坏已完成的交易
func MapProviderStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "authorized", "pre_authorized":
		return model.TxStatusAuthorized
	case "approved", "paid", "accredited":
		return model.TxStatusPaid
	case "rejected", "denied", "cancelled", "expired":
		return model.TxStatusFailed
	case "refunded", "charged_back":
		return model.TxStatusRefunded
	default:
		log.Printf("[WebhookService] 未识别的渠道状态，保守按失败处理: status=%s", providerStatus)
		return model.TxStatusFailed
	}
}

type WebhookService struct {
	db              *gorm.DB
	cfg             *config.Config
	billingService  *BillingService
	transactionRepo *repository.TransactionRepository
	settingsRepo    *repository.SettingsRepository
	eventRepo       *repository.WebhookEventRepository
}

func NewWebhookService(db *gorm.DB, cfg *config.Config, billingService *BillingService) *WebhookService {
	return &WebhookService{
		db:              db,
		cfg:             cfg,
		billingService:  billingService,
		transactionRepo: repository.NewTransactionRepository(db),
		settingsRepo:    repository.NewSettingsRepository(db),
		eventRepo:       repository.NewWebhookEventRepository(db),
	}
}

// Ingest 处理一次已通过签名校验的投递
// 返回 ErrOrphanEvent 时调用方应答非 2xx，让渠道重投
func (s *WebhookService) Ingest(ctx context.Context, settings *model.BillingSettings, providerName string, rawPayload []byte) (*IngestResult, error) {
	externalID, providerStatus, txTime, parseErr := ParseWebhookPayload(rawPayload)

	event := &model.WebhookEvent{
		DeliveryNo: idgen.GenerateDeliveryNo(),
		TenantID:   settings.TenantID,
		Provider:   providerName,
		ExternalID: externalID,
		RawPayload: string(rawPayload),
	}
	// 事件落库失败是唯一允许直接报错的地方：没留痕就不能吞事件
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("记录回调事件失败: %w", err)
	}

	if parseErr != nil {
		// 畸形报文重投也救不回来，留痕后按成功应答，避免重投风暴
		log.Printf("[WebhookService] 报文解析失败: deliveryNo=%s, err=%v", event.DeliveryNo, parseErr)
		return &IngestResult{Result: IngestResultParseError}, nil
	}

	result, err := s.applyEvent(ctx, settings, event, externalID, providerStatus, txTime)
	if err != nil {
		return result, err
	}

	if markErr := s.eventRepo.MarkProcessed(ctx, event.ID); markErr != nil {
		// 标记失败不影响业务结果，重投时靠幂等吸收
		log.Printf("[WebhookService] 标记事件已处理失败: deliveryNo=%s, err=%v", event.DeliveryNo, markErr)
	}

	return result, nil
}

// ReplayEvent 对账任务重放孤儿事件
// 交易此刻可能已经建出来了，重新走一遍匹配和流转
func (s *WebhookService) ReplayEvent(ctx context.Context, event *model.WebhookEvent) (*IngestResult, error) {
	externalID, providerStatus, txTime, parseErr := ParseWebhookPayload([]byte(event.RawPayload))
	if parseErr != nil {
		return &IngestResult{Result: IngestResultParseError}, nil
	}

	settings, err := s.settingsRepo.GetActiveByTenant(ctx, event.TenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrSettingsNotFound) {
			return nil, err
		}
		settings = nil
	}

	result, err := s.applyEvent(ctx, settings, event, externalID, providerStatus, txTime)
	if err != nil {
		return result, err
	}

	if markErr := s.eventRepo.MarkProcessed(ctx, event.ID); markErr != nil {
		log.Printf("[WebhookService] 标记事件已处理失败: deliveryNo=%s, err=%v", event.DeliveryNo, markErr)
	}
	return result, nil
}

// applyEvent 匹配交易并应用状态流转，触发开票副作用
func (s *WebhookService) applyEvent(ctx context.Context, settings *model.BillingSettings, event *model.WebhookEvent, externalID, providerStatus string, txTime *time.Time) (*IngestResult, error) {
	trans, err := s.transactionRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			// 渠道可能在本地建单前就发来了通知（支付意向创建竞态）
			if markErr := s.eventRepo.MarkOrphan(ctx, event.ID); markErr != nil {
				log.Printf("[WebhookService] 标记孤儿事件失败: deliveryNo=%s, err=%v", event.DeliveryNo, markErr)
			}
			log.Printf("[WebhookService] 孤儿事件: externalID=%s, deliveryNo=%s", externalID, event.DeliveryNo)
			return &IngestResult{Result: IngestResultOrphan, ExternalID: externalID}, ErrOrphanEvent
		}
		return nil, err
	}

	targetStatus := MapProviderStatus(providerStatus)

	// 同状态重放：幂等空操作，但 PAID 的重放仍要补一次开票决策
	// （上次开票可能失败，重投正是它的重试通道）
	if model.IsNoopTransition(trans.Status, targetStatus) {
		result := &IngestResult{
			Result:            IngestResultDuplicate,
			ExternalID:        externalID,
			TransactionStatus: trans.Status,
		}
		if targetStatus == model.TxStatusPaid {
			result.BillingOutcome = s.billingService.OnTransactionPaid(ctx, trans, settings, false)
		}
		return result, nil
	}

	if !model.CanTransitionTo(trans.Status, targetStatus) {
		// 非法转移按空操作处理，当前状态保持不变
		log.Printf("[WebhookService] 忽略非法状态转移: externalID=%s, %s -> %s",
			externalID, trans.Status, targetStatus)
		return &IngestResult{
			Result:            IngestResultIgnored,
			ExternalID:        externalID,
			TransactionStatus: trans.Status,
		}, nil
	}

	extra := map[string]interface{}{}
	if targetStatus == model.TxStatusAuthorized && txTime != nil {
		extra["captured_at"] = txTime
	}

	err = s.transactionRepo.UpdateStatus(ctx, nil, externalID, trans.Status, targetStatus, extra)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// 并发回调抢先改了状态，回查后按幂等/忽略吸收
			current, getErr := s.transactionRepo.GetByExternalID(ctx, externalID)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == targetStatus {
				return &IngestResult{
					Result:            IngestResultDuplicate,
					ExternalID:        externalID,
					TransactionStatus: current.Status,
				}, nil
			}
			return &IngestResult{
				Result:            IngestResultIgnored,
				ExternalID:        externalID,
				TransactionStatus: current.Status,
			}, nil
		}
		return nil, err
	}

	trans, err = s.transactionRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		Result:            IngestResultProcessed,
		ExternalID:        externalID,
		TransactionStatus: trans.Status,
	}

	// 副作用：到账触发开票决策，退款触发贷记单决策
	switch targetStatus {
	case model.TxStatusPaid:
		result.BillingOutcome = s.billingService.OnTransactionPaid(ctx, trans, settings, false)
	case model.TxStatusRefunded:
		result.CreditNoteOutcome = s.billingService.OnTransactionRefunded(ctx, trans, settings)
	}

	return result, nil
}
