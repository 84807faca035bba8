package repository

import (
	"context"
	"errors"

	"billsystem/internal/model"

	"gorm.io/gorm"
)

var (
	ErrSettingsNotFound = errors.New("商户配置不存在")
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetActiveByTenant(ctx context.Context, tenantID int64) (*model.BillingSettings, error) {
	var settings model.BillingSettings
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// GetActiveByWebhookSecret 多租户路由：按签名密钥反查商户
func (r *SettingsRepository) GetActiveByWebhookSecret(ctx context.Context, secret string) (*model.BillingSettings, error) {
	var settings model.BillingSettings
	err := r.db.WithContext(ctx).
		Where("webhook_secret = ? AND active = ?", secret, true).
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// ListActiveCandidates 取全部激活配置，供逐个试签名时遍历
func (r *SettingsRepository) ListActiveCandidates(ctx context.Context) ([]*model.BillingSettings, error) {
	var list []*model.BillingSettings
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Find(&list).Error
	return list, err
}

func (r *SettingsRepository) ListActiveTenantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.BillingSettings{}).
		Where("active = ?", true).
		Distinct().
		Pluck("tenant_id", &ids).Error
	return ids, err
}

// SetActive 激活新配置
//
// 【关键点】"每个商户至多一行 active" 的不变式靠这里保证：
// 同一个事务内先把旧的激活行全部置为非激活，再插入新行。
// 禁止在外面先删后插 —— 中间态会出现两行激活或零行激活
func (r *SettingsRepository) SetActive(ctx context.Context, settings *model.BillingSettings) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.BillingSettings{}).
			Where("tenant_id = ? AND active = ?", settings.TenantID, true).
			Update("active", false).Error; err != nil {
			return err
		}

		settings.Active = true
		return tx.Create(settings).Error
	})
}
