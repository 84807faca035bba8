package repository

import (
	"context"
	"errors"
	"time"

	"billsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrStatusConflict      = errors.New("交易状态不允许该转移")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// CreateOrGet 以 external_id 唯一约束做并发安全的创建
//
// 【关键点】两个实例同时为同一笔渠道支付建单时，第二个写入者的
// INSERT 会撞唯一索引。这里用 OnConflict DoNothing 吞掉冲突，
// 再回查取已有行 —— 冲突是正常路径，不是错误
func (r *TransactionRepository) CreateOrGet(ctx context.Context, trans *model.Transaction) (*model.Transaction, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(trans)
	if result.Error != nil {
		return nil, false, result.Error
	}

	created := result.RowsAffected > 0
	stored, err := r.GetByExternalID(ctx, trans.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// UpdateStatus 条件更新实现原子的"读-改-写"
// WHERE 带上旧状态，两个并发回调只有一个能改成功；
// 失败方回查发现已是目标状态则按幂等空操作处理（由调用方判断）
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, externalID, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	switch toStatus {
	case model.TxStatusAuthorized:
		now := time.Now()
		updates["captured_at"] = &now
	case model.TxStatusRefunded:
		now := time.Now()
		updates["refunded_at"] = &now
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("external_id = ? AND status = ?", externalID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkBilled 开票成功后回写发票信息并翻转计费状态
func (r *TransactionRepository) MarkBilled(ctx context.Context, tx *gorm.DB, transactionID int64, invoiceNumber, cae string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", transactionID).
		Updates(map[string]interface{}{
			"billing_status": model.BillingStatusBilled,
			"invoice_number": invoiceNumber,
			"invoice_cae":    cae,
		}).Error
}

// MarkBilledSkip 免开票场景：直接标记 BILLED，对账任务不再重试
func (r *TransactionRepository) MarkBilledSkip(ctx context.Context, tx *gorm.DB, transactionID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", transactionID).
		Update("billing_status", model.BillingStatusBilled).Error
}

// MarkCreditNoted 贷记单开具成功后回写
func (r *TransactionRepository) MarkCreditNoted(ctx context.Context, tx *gorm.DB, transactionID int64, number, cae string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", transactionID).
		Updates(map[string]interface{}{
			"credit_note_number": number,
			"credit_note_cae":    cae,
		}).Error
}

// GetPendingBilling 对账窗口内应开票而未开票的交易
// 只取 PAID：待人工确认的交易不归对账任务重试
func (r *TransactionRepository) GetPendingBilling(ctx context.Context, tenantID int64, start, end time.Time, limit int) ([]*model.Transaction, error) {
	var list []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND billing_status = ? AND created_at >= ? AND created_at < ?",
			tenantID, model.TxStatusPaid, model.BillingStatusPending, start, end).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *TransactionRepository) MarkReconciled(ctx context.Context, transactionID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", transactionID).
		Update("reconciled", true).Error
}

func (r *TransactionRepository) ListByTenant(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var list []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("tenant_id = ?", tenantID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error

	return list, total, err
}
