package repository

import (
	"context"

	"gorm.io/gorm"

	"review-portal/backend/internal/model"
)

// NotificationRepository 通知发送日志数据访问接口
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByModule(ctx context.Context, moduleID string, limit int) ([]model.Notification, error)
	DeleteByModule(ctx context.Context, moduleID string) error
}

type notificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepo 创建 NotificationRepository 实例
func NewNotificationRepo(db *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepo) ListByModule(ctx context.Context, moduleID string, limit int) ([]model.Notification, error) {
	var list []model.Notification
	err := r.db.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *notificationRepo) DeleteByModule(ctx context.Context, moduleID string) error {
	return r.db.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Delete(&model.Notification{}).Error
}
