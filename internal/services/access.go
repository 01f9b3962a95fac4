package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

// access 集中了 "谁能看到哪个会话" 的判断。
// 项目讨论区的成员关系来自 project_members, 其他会话来自 conversation_participants。
type access struct {
	convRepo    storage.ConversationRepository
	projectRepo storage.ProjectRepository
}

// conversation 加载会话并确认 userID 有权访问。
func (a access) conversation(ctx context.Context, conversationID, userID uint) (*models.Conversation, error) {
	conv, err := a.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("会话 %d: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("获取会话 %d 失败: %w", conversationID, err)
	}
	ok, err := a.canAccess(ctx, conv, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (a access) canAccess(ctx context.Context, conv *models.Conversation, userID uint) (bool, error) {
	if conv.Kind == models.ProjectConversation && conv.ProjectID != nil {
		ok, err := a.projectRepo.IsMember(ctx, *conv.ProjectID, userID)
		if err != nil {
			return false, fmt.Errorf("检查项目 %d 成员失败: %w", *conv.ProjectID, err)
		}
		return ok, nil
	}
	ok, err := a.convRepo.IsParticipant(ctx, conv.ID, userID)
	if err != nil {
		return false, fmt.Errorf("检查会话 %d 成员失败: %w", conv.ID, err)
	}
	return ok, nil
}

func (a access) project(ctx context.Context, projectID, userID uint) error {
	ok, err := a.projectRepo.IsMember(ctx, projectID, userID)
	if err != nil {
		return fmt.Errorf("检查项目 %d 成员失败: %w", projectID, err)
	}
	if !ok {
		return forbidden("用户 %d 不是项目 %d 的成员", userID, projectID)
	}
	return nil
}

// audience 返回会话的全部成员。
func (a access) audience(ctx context.Context, conv *models.Conversation) ([]uint, error) {
	if conv.Kind == models.ProjectConversation && conv.ProjectID != nil {
		return a.projectRepo.MemberIDs(ctx, *conv.ProjectID)
	}
	return a.convRepo.ParticipantIDs(ctx, conv.ID)
}

// roomFor 返回会话事件广播的房间: 讨论区走项目房间。
func roomFor(conv *models.Conversation) string {
	if conv.Kind == models.ProjectConversation && conv.ProjectID != nil {
		return imtypes.ProjectRoom(*conv.ProjectID)
	}
	return imtypes.ConversationRoom(conv.ID)
}

// publish 在写入提交之后调用。实时通道不可用不影响写入结果, 客户端会通过 REST 补拉。
func publish(ctx context.Context, pub dispatch.Publisher, log *logger.Logger, room, event string, payload interface{}) {
	if err := pub.Publish(ctx, room, event, payload); err != nil {
		log.Warn("事件发布失败, 已忽略", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}
