package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

const maxGroupNameLength = 255

// GroupService 定义了群聊相关服务的接口。
// 成员变更只有创建者可以操作, 成员可以自己退出; 改名所有成员都可以。
type GroupService interface {
	Create(ctx context.Context, creatorID uint, name string, memberIDs []uint) (*imtypes.ConversationView, error)
	Rename(ctx context.Context, userID, conversationID uint, name string) error
	AddMembers(ctx context.Context, userID, conversationID uint, memberIDs []uint) ([]uint, error)
	RemoveMember(ctx context.Context, userID, conversationID, memberID uint) error
}

// groupService 是 GroupService 的实现。
type groupService struct {
	convRepo      storage.ConversationRepository
	userRepo      storage.UserRepository
	notifications NotificationService
	publisher     dispatch.Publisher
	log           *logger.Logger
}

// NewGroupService 创建一个新的 GroupService 实例。
func NewGroupService(
	convRepo storage.ConversationRepository,
	userRepo storage.UserRepository,
	notifications NotificationService,
	publisher dispatch.Publisher,
	log *logger.Logger,
) GroupService {
	return &groupService{
		convRepo:      convRepo,
		userRepo:      userRepo,
		notifications: notifications,
		publisher:     publisher,
		log:           log.Named("group"),
	}
}

// Create 创建群聊, 创建者自动成为成员。
func (s *groupService) Create(ctx context.Context, creatorID uint, name string, memberIDs []uint) (*imtypes.ConversationView, error) {
	name, err := validGroupName(name)
	if err != nil {
		return nil, err
	}
	members := uniqueIDs(append([]uint{creatorID}, memberIDs...))
	if len(members) < 2 {
		return nil, invalid("群聊至少需要一名其他成员")
	}
	if err := s.ensureUsersExist(ctx, members); err != nil {
		return nil, err
	}

	conv := &models.Conversation{Kind: models.GroupConversation, Name: name, CreatorID: creatorID}
	if err := s.convRepo.CreateWithParticipants(ctx, conv, members); err != nil {
		return nil, fmt.Errorf("创建群聊失败: %w", err)
	}
	s.log.Info("群聊已创建", zap.Uint("conversation_id", conv.ID), zap.Uint("user_id", creatorID), zap.Int("members", len(members)))

	view := toConversationView(conv, members)
	for _, uid := range members {
		publish(ctx, s.publisher, s.log, imtypes.UserRoom(uid), imtypes.EventConversationCreated,
			imtypes.ConversationCreatedPayload{Conversation: view})
	}
	s.notifyAdded(ctx, conv, creatorID, members)
	return &view, nil
}

func (s *groupService) Rename(ctx context.Context, userID, conversationID uint, name string) error {
	name, err := validGroupName(name)
	if err != nil {
		return err
	}
	conv, err := s.group(ctx, conversationID)
	if err != nil {
		return err
	}
	ok, err := s.convRepo.IsParticipant(ctx, conv.ID, userID)
	if err != nil {
		return fmt.Errorf("检查会话 %d 成员失败: %w", conv.ID, err)
	}
	if !ok {
		return ErrNotParticipant
	}
	if err := s.convRepo.UpdateName(ctx, conv.ID, name); err != nil {
		return fmt.Errorf("修改群聊 %d 名称失败: %w", conv.ID, err)
	}
	conv.Name = name
	return s.announceMembership(ctx, conv, nil)
}

func (s *groupService) AddMembers(ctx context.Context, userID, conversationID uint, memberIDs []uint) ([]uint, error) {
	conv, err := s.group(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.CreatorID != userID {
		return nil, forbidden("只有群主可以添加成员")
	}
	memberIDs = uniqueIDs(memberIDs)
	if len(memberIDs) == 0 {
		return nil, invalid("成员列表不能为空")
	}
	if err := s.ensureUsersExist(ctx, memberIDs); err != nil {
		return nil, err
	}

	added, err := s.convRepo.AddParticipants(ctx, conv.ID, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("添加群聊 %d 成员失败: %w", conv.ID, err)
	}
	if len(added) == 0 {
		return added, nil
	}
	s.log.Info("群聊成员已添加", zap.Uint("conversation_id", conv.ID), zap.Uints("added", added))

	if err := s.announceMembership(ctx, conv, nil); err != nil {
		return added, err
	}
	full, err := s.convRepo.GetWithParticipants(ctx, conv.ID)
	if err != nil {
		return added, fmt.Errorf("获取会话 %d 失败: %w", conv.ID, err)
	}
	view := toConversationView(full, nil)
	for _, uid := range added {
		publish(ctx, s.publisher, s.log, imtypes.UserRoom(uid), imtypes.EventConversationCreated,
			imtypes.ConversationCreatedPayload{Conversation: view})
	}
	s.notifyAdded(ctx, conv, userID, added)
	return added, nil
}

// RemoveMember 群主可以移除其他成员, 成员可以移除自己 (退出)。群主不能被移除。
func (s *groupService) RemoveMember(ctx context.Context, userID, conversationID, memberID uint) error {
	conv, err := s.group(ctx, conversationID)
	if err != nil {
		return err
	}
	if memberID == conv.CreatorID {
		return forbidden("不能移除群主")
	}
	if userID != conv.CreatorID && userID != memberID {
		return forbidden("只有群主可以移除其他成员")
	}
	if err := s.convRepo.RemoveParticipant(ctx, conv.ID, memberID); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("用户 %d 不在会话 %d 中: %w", memberID, conv.ID, ErrNotFound)
		}
		return fmt.Errorf("移除群聊 %d 成员失败: %w", conv.ID, err)
	}
	s.log.Info("群聊成员已移除", zap.Uint("conversation_id", conv.ID), zap.Uint("user_id", memberID), zap.Uint("by", userID))
	// 先把在线连接移出会话房间, 之后的事件不会再投递给他
	publish(ctx, s.publisher, s.log, imtypes.ConversationRoom(conv.ID), imtypes.EventRoomRevoked,
		imtypes.RoomRevokedPayload{UserID: memberID})
	// 被移除的人也要收到, 以便从会话列表中删除
	return s.announceMembership(ctx, conv, []uint{memberID})
}

// announceMembership 把当前成员和名称推送给所有成员以及 extra 中的用户。
func (s *groupService) announceMembership(ctx context.Context, conv *models.Conversation, extra []uint) error {
	users, err := s.convRepo.ParticipantIDs(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("获取会话 %d 成员失败: %w", conv.ID, err)
	}
	payload := imtypes.MembershipChangedPayload{ConversationID: conv.ID, Users: users, Name: conv.Name}
	for _, uid := range uniqueIDs(append(append([]uint{}, users...), extra...)) {
		publish(ctx, s.publisher, s.log, imtypes.UserRoom(uid), imtypes.EventMembershipChanged, payload)
	}
	return nil
}

func (s *groupService) notifyAdded(ctx context.Context, conv *models.Conversation, actorID uint, users []uint) {
	payload := map[string]interface{}{"conversationId": conv.ID, "name": conv.Name, "addedBy": actorID}
	for _, uid := range users {
		if uid == actorID {
			continue
		}
		if _, err := s.notifications.Notify(ctx, uid, models.NotificationGroupAdded, payload); err != nil {
			s.log.Warn("创建入群通知失败", zap.Uint("user_id", uid), zap.Error(err))
		}
	}
}

func (s *groupService) group(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("群聊 %d: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("获取群聊 %d 失败: %w", conversationID, err)
	}
	if conv.Kind != models.GroupConversation {
		return nil, invalid("会话 %d 不是群聊", conversationID)
	}
	return conv, nil
}

func (s *groupService) ensureUsersExist(ctx context.Context, ids []uint) error {
	n, err := s.userRepo.CountExisting(ctx, ids)
	if err != nil {
		return fmt.Errorf("检查用户失败: %w", err)
	}
	if int(n) != len(ids) {
		return fmt.Errorf("部分用户不存在: %w", ErrNotFound)
	}
	return nil
}

func validGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("群聊名称不能为空")
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return "", invalid("群聊名称过长")
	}
	return name, nil
}

// uniqueIDs 去重并去掉 0, 保持原有顺序。
func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
