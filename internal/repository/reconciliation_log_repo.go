package repository

import (
	"context"

	"billsystem/internal/model"

	"gorm.io/gorm"
)

type ReconciliationLogRepository struct {
	db *gorm.DB
}

func NewReconciliationLogRepository(db *gorm.DB) *ReconciliationLogRepository {
	return &ReconciliationLogRepository{db: db}
}

func (r *ReconciliationLogRepository) Create(ctx context.Context, logRow *model.ReconciliationLog) error {
	return r.db.WithContext(ctx).Create(logRow).Error
}

func (r *ReconciliationLogRepository) ListByTenant(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.ReconciliationLog, int64, error) {
	var list []*model.ReconciliationLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ReconciliationLog{}).Where("tenant_id = ?", tenantID)

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
