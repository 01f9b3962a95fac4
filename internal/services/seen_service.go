package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/receipts"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
	"sitechat/pkg/tracing"
)

// 计算已读标记时只看最近的这么多条消息
const seenWindow = 50

// SeenService 记录和查询消息的已读状态。
type SeenService interface {
	// RecordSeen 标记 userID 看到了消息; 自己发的消息不记录, 返回 nil
	RecordSeen(ctx context.Context, userID, messageID uint) (*imtypes.MessageSeenPayload, error)
	// Annotation 返回 userID 视角下会话应显示的已读标记, 没有时为 nil
	Annotation(ctx context.Context, userID, conversationID uint) (*imtypes.SeenAnnotation, error)
}

type seenService struct {
	msgRepo   storage.MessageRepository
	access    access
	publisher dispatch.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewSeenService 创建一个新的 SeenService 实例。
func NewSeenService(
	msgRepo storage.MessageRepository,
	convRepo storage.ConversationRepository,
	projectRepo storage.ProjectRepository,
	publisher dispatch.Publisher,
	log *logger.Logger,
) SeenService {
	return &seenService{
		msgRepo:   msgRepo,
		access:    access{convRepo: convRepo, projectRepo: projectRepo},
		publisher: publisher,
		log:       log.Named("seen"),
		now:       time.Now,
	}
}

func (s *seenService) RecordSeen(ctx context.Context, userID, messageID uint) (*imtypes.MessageSeenPayload, error) {
	ctx, span := tracing.Start(ctx, "SeenService.RecordSeen",
		attribute.Int64("message_id", int64(messageID)),
		attribute.Int64("user_id", int64(userID)))
	defer span.End()

	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("消息 %d: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("获取消息 %d 失败: %w", messageID, err)
	}
	conv, err := s.access.conversation(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == userID {
		return nil, nil
	}

	seenAt := s.now().UnixMilli()
	err = s.msgRepo.UpsertSeen(ctx, &models.MessageSeen{
		MessageID:      msg.ID,
		UserID:         userID,
		ConversationID: conv.ID,
		SeenAt:         seenAt,
	})
	if err != nil {
		return nil, fmt.Errorf("记录已读失败: %w", err)
	}

	payload := imtypes.MessageSeenPayload{ConversationID: conv.ID, MessageID: msg.ID, UserID: userID, Timestamp: seenAt}
	publish(ctx, s.publisher, s.log, roomFor(conv), imtypes.EventMessageSeen, payload)
	s.log.Debug("已读已记录", zap.Uint("message_id", msg.ID), zap.Uint("user_id", userID))
	return &payload, nil
}

func (s *seenService) Annotation(ctx context.Context, userID, conversationID uint) (*imtypes.SeenAnnotation, error) {
	conv, err := s.access.conversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.msgRepo.ListRecent(ctx, conv.ID, seenWindow)
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 最近消息失败: %w", conv.ID, err)
	}
	// 只统计仍在会话中的成员
	members, err := s.access.audience(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 成员失败: %w", conv.ID, err)
	}

	msgs := make([]receipts.Message, 0, len(recent))
	for _, m := range recent {
		rm := receipts.Message{ID: m.ID, SenderID: m.SenderID, Timestamp: m.SentAt, Sequence: m.Sequence}
		for _, seen := range m.Seen {
			rm.SeenBy = append(rm.SeenBy, seen.UserID)
		}
		msgs = append(msgs, rm)
	}
	mode := receipts.Group
	if conv.Kind == models.DirectConversation {
		mode = receipts.Direct
	}
	return receipts.MostRecentSeen(mode, userID, msgs, members), nil
}
