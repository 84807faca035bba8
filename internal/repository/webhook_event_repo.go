package repository

import (
	"context"
	"time"

	"billsystem/internal/model"

	"gorm.io/gorm"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create 投递落库必须在任何业务处理之前，失败就拒收让渠道重投
func (r *WebhookEventRepository) Create(ctx context.Context, event *model.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
			"orphan":       false,
		}).Error
}

func (r *WebhookEventRepository) MarkOrphan(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Update("orphan", true).Error
}

// GetUnresolvedOrphans 窗口内仍未处理的孤儿事件，对账任务尝试重配
func (r *WebhookEventRepository) GetUnresolvedOrphans(ctx context.Context, tenantID int64, start, end time.Time, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND orphan = ? AND processed = ? AND created_at >= ? AND created_at < ?",
			tenantID, true, false, start, end).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
