package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationService 定义了通知相关服务的接口。
type NotificationService interface {
	// Notify 保存通知并推送到接收者的 user 房间
	Notify(ctx context.Context, recipientID uint, kind models.NotificationType, payload interface{}) (*imtypes.NotificationView, error)
	List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]imtypes.NotificationView, error)
	MarkRead(ctx context.Context, userID, notificationID uint) error
	// PurgeRead 删除 maxAge 之前已读的通知, 返回删除数量
	PurgeRead(ctx context.Context, maxAge time.Duration) (int64, error)
}

type notificationService struct {
	repo      storage.NotificationRepository
	publisher dispatch.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewNotificationService 创建一个新的 NotificationService 实例。
func NewNotificationService(repo storage.NotificationRepository, publisher dispatch.Publisher, log *logger.Logger) NotificationService {
	return &notificationService{repo: repo, publisher: publisher, log: log.Named("notification"), now: time.Now}
}

func (s *notificationService) Notify(ctx context.Context, recipientID uint, kind models.NotificationType, payload interface{}) (*imtypes.NotificationView, error) {
	n := &models.Notification{RecipientID: recipientID, Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("编码通知内容失败: %w", err)
		}
		n.PayloadRaw = raw
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("保存通知失败: %w", err)
	}
	view := toNotificationView(n)
	publish(ctx, s.publisher, s.log, imtypes.UserRoom(recipientID), imtypes.EventNotificationCreated,
		imtypes.NotificationCreatedPayload{Notification: view})
	s.log.Debug("通知已创建", zap.Uint("user_id", recipientID), zap.String("type", string(kind)))
	return &view, nil
}

func (s *notificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]imtypes.NotificationView, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	list, err := s.repo.ListForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("获取用户 %d 的通知失败: %w", userID, err)
	}
	out := make([]imtypes.NotificationView, 0, len(list))
	for _, n := range list {
		out = append(out, toNotificationView(n))
	}
	return out, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	if err := s.repo.MarkRead(ctx, notificationID, userID, s.now()); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("通知 %d: %w", notificationID, ErrNotFound)
		}
		return fmt.Errorf("标记通知 %d 已读失败: %w", notificationID, err)
	}
	return nil
}

func (s *notificationService) PurgeRead(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, invalid("保留时间必须大于 0")
	}
	n, err := s.repo.PurgeReadBefore(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("清理已读通知失败: %w", err)
	}
	s.log.Info("已清理已读通知", zap.Int64("count", n), zap.Duration("max_age", maxAge))
	return n, nil
}
