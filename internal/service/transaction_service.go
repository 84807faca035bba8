package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"billsystem/internal/config"
	"billsystem/internal/model"
	"billsystem/internal/provider"
	"billsystem/internal/repository"
	"billsystem/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionService 交易显式创建与退款申请
// 多数交易由 webhook 首次通知时隐式建出，这里是业务方主动下单的入口
type TransactionService struct {
	db              *gorm.DB
	cfg             *config.Config
	paymentClient   provider.PaymentClient
	transactionRepo *repository.TransactionRepository
}

func NewTransactionService(db *gorm.DB, cfg *config.Config, paymentClient provider.PaymentClient) *TransactionService {
	return &TransactionService{
		db:              db,
		cfg:             cfg,
		paymentClient:   paymentClient,
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

type CreateTransactionRequest struct {
	TenantID    int64           `json:"tenant_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CustomerDoc string          `json:"customer_doc"`
}

// CreateTransaction 创建支付意向并落本地交易
//
// 【关键点】渠道先返回支付ID，本地再以该ID建单。
// 渠道的 webhook 可能比这里的 INSERT 先到（意向创建竞态）——
// 那条事件会先被记成孤儿，等对账任务重放；
// 也可能本地 INSERT 撞上 webhook 已隐式建出的行，CreateOrGet 吸收冲突
func (s *TransactionService) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*model.Transaction, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("金额必须大于零")
	}
	currency := req.Currency
	if currency == "" {
		currency = "ARS"
	}

	intent, err := s.paymentClient.CreateIntent(ctx, &provider.PaymentIntentRequest{
		Reference: idgen.GenerateTransactionNo(),
		Amount:    req.Amount,
		Currency:  currency,
	})
	if err != nil {
		return nil, fmt.Errorf("创建支付意向失败: %w", err)
	}

	trans := &model.Transaction{
		ExternalID:    intent.ID,
		TenantID:      req.TenantID,
		Amount:        req.Amount,
		Currency:      currency,
		Status:        model.TxStatusPending,
		CustomerDoc:   req.CustomerDoc,
		BillingStatus: model.BillingStatusPending,
	}

	stored, created, err := s.transactionRepo.CreateOrGet(ctx, trans)
	if err != nil {
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}
	if !created {
		log.Printf("[TransactionService] 交易已存在（webhook 先行建单）: externalID=%s", intent.ID)
	}

	return stored, nil
}

// RequestRefund 向渠道发起退款
// 本地状态不在这里改：等渠道 refunded 回调走状态机，保证单一事实来源
func (s *TransactionService) RequestRefund(ctx context.Context, externalID string) error {
	trans, err := s.transactionRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	if trans.Status != model.TxStatusPaid && trans.Status != model.TxStatusAuthorized {
		return fmt.Errorf("交易状态不允许退款，当前状态: %s", trans.Status)
	}

	if _, err := s.paymentClient.RefundIntent(ctx, externalID); err != nil {
		return fmt.Errorf("渠道退款请求失败: %w", err)
	}

	log.Printf("[TransactionService] 退款请求已提交: externalID=%s", externalID)
	return nil
}

// CancelTransaction 取消未支付的交易
func (s *TransactionService) CancelTransaction(ctx context.Context, externalID string) error {
	trans, err := s.transactionRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	if trans.Status != model.TxStatusPending {
		return fmt.Errorf("交易状态不允许取消，当前状态: %s", trans.Status)
	}

	if _, err := s.paymentClient.CancelIntent(ctx, externalID); err != nil {
		return fmt.Errorf("渠道取消请求失败: %w", err)
	}

	return s.transactionRepo.UpdateStatus(ctx, nil, externalID, model.TxStatusPending, model.TxStatusFailed, nil)
}

func (s *TransactionService) GetTransaction(ctx context.Context, externalID string) (*model.Transaction, error) {
	return s.transactionRepo.GetByExternalID(ctx, externalID)
}

func (s *TransactionService) ListTransactions(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByTenant(ctx, tenantID, page, pageSize)
}
