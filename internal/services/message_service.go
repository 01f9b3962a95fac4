package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/sequence"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
	"sitechat/pkg/tracing"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxEmojiLength      = 16
)

// MessageService 定义了聊天消息相关服务的接口。
type MessageService interface {
	// Send 写入消息并广播 messageCreated 与 conversationUpdated
	Send(ctx context.Context, conversationID uint, draft Draft) (*imtypes.MessageView, error)
	// History 按 (timestamp, sequence) 升序返回消息。
	// afterSequence > 0 时返回其后的消息 (断线补拉), 否则返回最近 limit 条。
	History(ctx context.Context, userID, conversationID uint, afterSequence int64, limit int) ([]imtypes.MessageView, error)
	// ToggleReaction 设置表情; 再次提交相同表情则取消
	ToggleReaction(ctx context.Context, userID, messageID uint, emoji string) (*imtypes.ReactionChangedPayload, error)
	// AuthorizeAttachment 确认用户能访问该存储路径所属的会话
	AuthorizeAttachment(ctx context.Context, userID uint, storagePath string) error
}

// messageService 是 MessageService 的实现。
type messageService struct {
	msgRepo   storage.MessageRepository
	convRepo  storage.ConversationRepository
	access    access
	writer    messageWriter
	publisher dispatch.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(
	msgRepo storage.MessageRepository,
	convRepo storage.ConversationRepository,
	projectRepo storage.ProjectRepository,
	authority sequence.Authority,
	publisher dispatch.Publisher,
	maxFiles int,
	log *logger.Logger,
) MessageService {
	return &messageService{
		msgRepo:   msgRepo,
		convRepo:  convRepo,
		access:    access{convRepo: convRepo, projectRepo: projectRepo},
		writer:    messageWriter{msgRepo: msgRepo, seq: authority, maxFiles: maxFiles},
		publisher: publisher,
		log:       log.Named("message"),
		now:       time.Now,
	}
}

func (s *messageService) Send(ctx context.Context, conversationID uint, draft Draft) (*imtypes.MessageView, error) {
	ctx, span := tracing.Start(ctx, "MessageService.Send",
		attribute.Int64("conversation_id", int64(conversationID)),
		attribute.Int64("user_id", int64(draft.SenderID)))
	defer span.End()

	if err := s.writer.validate(&draft); err != nil {
		return nil, err
	}
	conv, err := s.access.conversation(ctx, conversationID, draft.SenderID)
	if err != nil {
		return nil, err
	}
	if conv.Kind == models.ProjectConversation {
		return nil, invalid("项目讨论区请使用讨论接口")
	}

	msg, err := s.writer.write(ctx, conv, draft, nil)
	if err != nil {
		s.log.Error("发送消息失败", zap.Uint("conversation_id", conv.ID), zap.Uint("user_id", draft.SenderID), zap.Error(err))
		return nil, err
	}
	view := toMessageView(msg)
	s.log.Debug("消息已保存",
		zap.Uint("conversation_id", conv.ID),
		zap.Uint("message_id", msg.ID),
		zap.Int64("sequence", msg.Sequence))

	publish(ctx, s.publisher, s.log, roomFor(conv), imtypes.EventMessageCreated,
		imtypes.MessageCreatedPayload{ConversationID: conv.ID, Message: view})

	participants, err := s.convRepo.ParticipantIDs(ctx, conv.ID)
	if err != nil {
		// 消息已经提交, 列表更新丢失只影响排序, 客户端刷新列表即可恢复
		s.log.Warn("获取会话成员失败, 跳过列表更新", zap.Uint("conversation_id", conv.ID), zap.Error(err))
		return &view, nil
	}
	update := imtypes.ConversationUpdatedPayload{ConversationID: conv.ID, LastMessage: *toLastEventView(conv)}
	for _, uid := range participants {
		publish(ctx, s.publisher, s.log, imtypes.UserRoom(uid), imtypes.EventConversationUpdated, update)
	}
	return &view, nil
}

func (s *messageService) History(ctx context.Context, userID, conversationID uint, afterSequence int64, limit int) ([]imtypes.MessageView, error) {
	conv, err := s.access.conversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var list []*models.Message
	if afterSequence > 0 {
		list, err = s.msgRepo.ListByConversation(ctx, conv.ID, afterSequence, limit)
	} else {
		list, err = s.msgRepo.ListRecent(ctx, conv.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 历史消息失败: %w", conv.ID, err)
	}
	return toMessageViews(list), nil
}

func (s *messageService) ToggleReaction(ctx context.Context, userID, messageID uint, emoji string) (*imtypes.ReactionChangedPayload, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, invalid("表情无效")
	}
	msg, err := s.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.access.conversation(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}

	current, err := s.msgRepo.GetReaction(ctx, msg.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("获取表情失败: %w", err)
	}
	if current != nil && current.Emoji == emoji {
		err = s.msgRepo.DeleteReaction(ctx, msg.ID, userID)
	} else {
		err = s.msgRepo.UpsertReaction(ctx, &models.MessageReaction{MessageID: msg.ID, UserID: userID, Emoji: emoji, UpdatedAt: s.now()})
	}
	if err != nil {
		return nil, fmt.Errorf("更新表情失败: %w", err)
	}

	reactions, err := s.msgRepo.ListReactions(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("获取消息 %d 表情失败: %w", msg.ID, err)
	}
	payload := imtypes.ReactionChangedPayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Reactions:      toReactionViews(reactions),
	}
	publish(ctx, s.publisher, s.log, roomFor(conv), imtypes.EventReactionChanged, payload)
	return &payload, nil
}

func (s *messageService) AuthorizeAttachment(ctx context.Context, userID uint, storagePath string) error {
	if storagePath == "" {
		return invalid("缺少附件路径")
	}
	conversationID, err := s.msgRepo.FindAttachmentConversation(ctx, storagePath)
	if err != nil {
		return fmt.Errorf("查找附件失败: %w", err)
	}
	if conversationID == 0 {
		return fmt.Errorf("附件 %s: %w", storagePath, ErrNotFound)
	}
	_, err = s.access.conversation(ctx, conversationID, userID)
	return err
}

func (s *messageService) message(ctx context.Context, messageID uint) (*models.Message, error) {
	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("消息 %d: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("获取消息 %d 失败: %w", messageID, err)
	}
	return msg, nil
}
