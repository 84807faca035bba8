package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"billsystem/internal/config"
	"billsystem/internal/model"
	"billsystem/internal/repository"
	"billsystem/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// 对账引擎
// ============================================================================
//
// 【职责】定期比对"应开票"与"已开票"的差异并修复：
//   1. 窗口内 PAID 且计费状态仍 PENDING 的交易 -> 重新走开票编排
//      （这就是开票 ERROR 结果的重试通道）
//   2. 窗口内未处理的孤儿事件 -> 重放，交易此刻可能已经存在
//
// 【关键点】允许重叠窗口反复跑（每日短窗 + 每周深窗），
// 底层操作全部幂等：已结态的交易重跑是空操作，不会开出第二张发票。
// 跑一半挂掉也无需回滚 —— 已处理的留在日志里，剩下的下一轮接着跑。
//
// ============================================================================

// ReconcileResult 一次对账跑批的汇总
type ReconcileResult struct {
	RunNo          string  `json:"run_no"`
	TenantID       int64   `json:"tenant_id"`
	ProcessedCount int     `json:"processed_count"`
	ErrorCount     int     `json:"error_count"`
	OrphanCount    int     `json:"orphan_count"`
	Rate           float64 `json:"rate"`
}

// reconcileDetail 对账明细（入 JSON 留档）
type reconcileDetail struct {
	ExternalID string `json:"external_id,omitempty"`
	DeliveryNo string `json:"delivery_no,omitempty"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
}

type ReconcileService struct {
	db              *gorm.DB
	cfg             *config.Config
	billingService  *BillingService
	webhookService  *WebhookService
	transactionRepo *repository.TransactionRepository
	settingsRepo    *repository.SettingsRepository
	eventRepo       *repository.WebhookEventRepository
	logRepo         *repository.ReconciliationLogRepository
	outboxRepo      *repository.OutboxRepository
}

func NewReconcileService(db *gorm.DB, cfg *config.Config, billingService *BillingService, webhookService *WebhookService) *ReconcileService {
	return &ReconcileService{
		db:              db,
		cfg:             cfg,
		billingService:  billingService,
		webhookService:  webhookService,
		transactionRepo: repository.NewTransactionRepository(db),
		settingsRepo:    repository.NewSettingsRepository(db),
		eventRepo:       repository.NewWebhookEventRepository(db),
		logRepo:         repository.NewReconciliationLogRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// ComputeRate 对账完成率：1 - error/processed，processed=0 时按 1 算
func ComputeRate(processedCount, errorCount int) float64 {
	if processedCount == 0 {
		return 1.0
	}
	return 1.0 - float64(errorCount)/float64(processedCount)
}

// Reconcile 对单个商户跑一个时间窗口的对账
func (s *ReconcileService) Reconcile(ctx context.Context, tenantID int64, start, end time.Time) (*ReconcileResult, error) {
	runNo := idgen.GenerateReconcileNo()
	log.Printf("[ReconcileService] 对账开始: runNo=%s, tenantID=%d, window=[%s, %s)",
		runNo, tenantID, start.Format(time.RFC3339), end.Format(time.RFC3339))

	settings, err := s.settingsRepo.GetActiveByTenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrSettingsNotFound) {
			return nil, fmt.Errorf("查询商户配置失败: %w", err)
		}
		settings = nil
	}

	batchSize := s.cfg.Reconcile.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	var details []reconcileDetail
	processedCount := 0
	errorCount := 0

	// 第一步：重试应开票未开票的交易
	pending, err := s.transactionRepo.GetPendingBilling(ctx, tenantID, start, end, batchSize)
	if err != nil {
		return nil, fmt.Errorf("查询待开票交易失败: %w", err)
	}

	for _, trans := range pending {
		outcome := s.billingService.OnTransactionPaid(ctx, trans, settings, false)
		processedCount++
		if outcome.Result == BillingResultError {
			errorCount++
		} else {
			if err := s.transactionRepo.MarkReconciled(ctx, trans.ID); err != nil {
				log.Printf("[ReconcileService] 标记交易已对账失败: externalID=%s, err=%v", trans.ExternalID, err)
			}
		}
		details = append(details, reconcileDetail{
			ExternalID: trans.ExternalID,
			Action:     "retry_billing",
			Outcome:    outcome.Result,
		})
	}

	// 第二步：重放孤儿事件，交易此刻可能已建出来
	orphanCount := 0
	orphans, err := s.eventRepo.GetUnresolvedOrphans(ctx, tenantID, start, end, batchSize)
	if err != nil {
		return nil, fmt.Errorf("查询孤儿事件失败: %w", err)
	}

	for _, event := range orphans {
		result, replayErr := s.webhookService.ReplayEvent(ctx, event)
		if replayErr != nil {
			if errors.Is(replayErr, ErrOrphanEvent) {
				// 仍然没等到交易，留给下一轮
				orphanCount++
				details = append(details, reconcileDetail{
					DeliveryNo: event.DeliveryNo,
					ExternalID: event.ExternalID,
					Action:     "replay_orphan",
					Outcome:    IngestResultOrphan,
				})
				continue
			}
			log.Printf("[ReconcileService] 重放孤儿事件失败: deliveryNo=%s, err=%v", event.DeliveryNo, replayErr)
			errorCount++
			processedCount++
			details = append(details, reconcileDetail{
				DeliveryNo: event.DeliveryNo,
				ExternalID: event.ExternalID,
				Action:     "replay_orphan",
				Outcome:    "ERROR",
			})
			continue
		}
		processedCount++
		details = append(details, reconcileDetail{
			DeliveryNo: event.DeliveryNo,
			ExternalID: result.ExternalID,
			Action:     "replay_orphan",
			Outcome:    result.Result,
		})
	}

	rate := ComputeRate(processedCount, errorCount)
	detailBytes, _ := json.Marshal(details)

	logRow := &model.ReconciliationLog{
		RunNo:          runNo,
		TenantID:       tenantID,
		WindowStart:    start,
		WindowEnd:      end,
		ProcessedCount: processedCount,
		ErrorCount:     errorCount,
		OrphanCount:    orphanCount,
		Rate:           rate,
		Detail:         string(detailBytes),
	}

	// 日志行 + outbox 同事务落库
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(logRow).Error; err != nil {
			return fmt.Errorf("写对账日志失败: %w", err)
		}

		summary, _ := json.Marshal(map[string]interface{}{
			"run_no":          runNo,
			"tenant_id":       tenantID,
			"window_start":    start.Format(time.RFC3339),
			"window_end":      end.Format(time.RFC3339),
			"processed_count": processedCount,
			"error_count":     errorCount,
			"orphan_count":    orphanCount,
			"rate":            rate,
		})
		msg := &model.OutboxMessage{
			MessageKey: runNo,
			Topic:      s.cfg.Kafka.Topic.ReconcileResult,
			Payload:    string(summary),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, msg)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[ReconcileService] 对账完成: runNo=%s, processed=%d, errors=%d, orphans=%d, rate=%.4f",
		runNo, processedCount, errorCount, orphanCount, rate)

	return &ReconcileResult{
		RunNo:          runNo,
		TenantID:       tenantID,
		ProcessedCount: processedCount,
		ErrorCount:     errorCount,
		OrphanCount:    orphanCount,
		Rate:           rate,
	}, nil
}

// ListLogs 查询对账历史
func (s *ReconcileService) ListLogs(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.ReconciliationLog, int64, error) {
	return s.logRepo.ListByTenant(ctx, tenantID, page, pageSize)
}
