package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/ordering"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

// ConversationService 定义了会话相关服务的接口。
type ConversationService interface {
	// GetOrCreateDirect 返回两人之间唯一的私聊, created 表示本次新建
	GetOrCreateDirect(ctx context.Context, userID, otherID uint) (conv *imtypes.ConversationView, created bool, err error)
	// List 返回用户的会话列表, 已按会话列表规则排序
	List(ctx context.Context, userID uint) ([]imtypes.ConversationView, error)
	Get(ctx context.Context, userID, conversationID uint) (*imtypes.ConversationView, error)
}

// conversationService 是 ConversationService 的实现。
type conversationService struct {
	convRepo  storage.ConversationRepository
	userRepo  storage.UserRepository
	access    access
	publisher dispatch.Publisher
	log       *logger.Logger
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(
	convRepo storage.ConversationRepository,
	userRepo storage.UserRepository,
	projectRepo storage.ProjectRepository,
	publisher dispatch.Publisher,
	log *logger.Logger,
) ConversationService {
	return &conversationService{
		convRepo:  convRepo,
		userRepo:  userRepo,
		access:    access{convRepo: convRepo, projectRepo: projectRepo},
		publisher: publisher,
		log:       log.Named("conversation"),
	}
}

func (s *conversationService) GetOrCreateDirect(ctx context.Context, userID, otherID uint) (*imtypes.ConversationView, bool, error) {
	if otherID == 0 || userID == otherID {
		return nil, false, invalid("不能和自己创建私聊")
	}
	n, err := s.userRepo.CountExisting(ctx, []uint{otherID})
	if err != nil {
		return nil, false, fmt.Errorf("检查用户 %d 失败: %w", otherID, err)
	}
	if n == 0 {
		return nil, false, fmt.Errorf("用户 %d: %w", otherID, ErrNotFound)
	}

	key := models.DirectKey(userID, otherID)
	existing, err := s.convRepo.FindDirectByKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("查找私聊失败: %w", err)
	}
	if existing != nil {
		view, err := s.viewFor(ctx, existing, userID)
		return view, false, err
	}

	conv := &models.Conversation{Kind: models.DirectConversation, DirectKey: &key}
	if err := s.convRepo.CreateWithParticipants(ctx, conv, []uint{userID, otherID}); err != nil {
		if !storage.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("创建私聊失败: %w", err)
		}
		// 对方同时发起了私聊, 使用已经创建的那个
		existing, err = s.convRepo.FindDirectByKey(ctx, key)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("并发创建私聊后查找失败: %w", err)
		}
		view, err := s.viewFor(ctx, existing, userID)
		return view, false, err
	}
	s.log.Info("私聊已创建", zap.Uint("conversation_id", conv.ID), zap.Uint("user_id", userID), zap.Uint("other_id", otherID))

	// 每个人看到的私聊名称是对方的名字
	names, err := s.displayNames(ctx, []uint{userID, otherID})
	if err != nil {
		return nil, false, err
	}
	for _, recipient := range []uint{userID, otherID} {
		view := toConversationView(conv, []uint{userID, otherID})
		view.Name = names[counterpart(view.Participants, recipient)]
		publish(ctx, s.publisher, s.log, imtypes.UserRoom(recipient), imtypes.EventConversationCreated,
			imtypes.ConversationCreatedPayload{Conversation: view})
	}

	view := toConversationView(conv, []uint{userID, otherID})
	view.Name = names[otherID]
	return &view, true, nil
}

func (s *conversationService) List(ctx context.Context, userID uint) ([]imtypes.ConversationView, error) {
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取用户 %d 的会话列表失败: %w", userID, err)
	}

	var others []uint
	for _, c := range convs {
		if c.Kind == models.DirectConversation {
			if id := counterpart(c.ParticipantIDs(), userID); id != 0 {
				others = append(others, id)
			}
		}
	}
	names, err := s.displayNames(ctx, others)
	if err != nil {
		return nil, err
	}

	entries := make([]listEntry, 0, len(convs))
	for _, c := range convs {
		view := toConversationView(c, nil)
		if c.Kind == models.DirectConversation {
			view.Name = names[counterpart(view.Participants, userID)]
		}
		entries = append(entries, listEntry{view})
	}
	ordering.SortConversations(entries)

	out := make([]imtypes.ConversationView, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ConversationView)
	}
	return out, nil
}

func (s *conversationService) Get(ctx context.Context, userID, conversationID uint) (*imtypes.ConversationView, error) {
	conv, err := s.access.conversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	full, err := s.convRepo.GetWithParticipants(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 成员失败: %w", conv.ID, err)
	}
	return s.viewFor(ctx, full, userID)
}

func (s *conversationService) viewFor(ctx context.Context, conv *models.Conversation, viewerID uint) (*imtypes.ConversationView, error) {
	view := toConversationView(conv, nil)
	if conv.Kind == models.DirectConversation {
		other := counterpart(view.Participants, viewerID)
		names, err := s.displayNames(ctx, []uint{other})
		if err != nil {
			return nil, err
		}
		view.Name = names[other]
	}
	return &view, nil
}

func (s *conversationService) displayNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取用户资料失败: %w", err)
	}
	names := make(map[uint]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].DisplayName()
	}
	return names, nil
}

// counterpart 返回私聊中另一方的 ID。
func counterpart(participants []uint, self uint) uint {
	for _, id := range participants {
		if id != self {
			return id
		}
	}
	return 0
}
