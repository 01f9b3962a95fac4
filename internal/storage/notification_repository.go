package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"sitechat/internal/models"
)

// NotificationRepository 定义了通知的数据操作接口。
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]*models.Notification, error)
	// MarkRead 只能标记自己的通知, 不存在时返回 gorm.ErrRecordNotFound
	MarkRead(ctx context.Context, id, userID uint, at time.Time) error
	// PurgeReadBefore 物理删除早于 cutoff 的已读通知
	PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormNotificationRepository struct {
	db *gorm.DB
}

// NewGormNotificationRepository 创建一个新的基于 GORM 的 NotificationRepository。
func NewGormNotificationRepository(db *gorm.DB) NotificationRepository {
	return &gormNotificationRepository{db: db}
}

func (r *gormNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *gormNotificationRepository) ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]*models.Notification, error) {
	var list []*models.Notification
	query := r.db.WithContext(ctx).Where("recipient_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	query = query.Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&list).Error
	return list, err
}

func (r *gormNotificationRepository) MarkRead(ctx context.Context, id, userID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, userID).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormNotificationRepository) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Where("read = ? AND read_at < ?", true, cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
