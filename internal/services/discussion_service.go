package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/sequence"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

// DiscussionService 管理项目讨论区。每个项目一个讨论会话, 帖子只有两层:
// 对回复的回复会挂到根帖下。
type DiscussionService interface {
	Post(ctx context.Context, projectID uint, draft Draft) (*imtypes.MessageView, error)
	Reply(ctx context.Context, projectID, parentID uint, draft Draft) (*imtypes.MessageView, error)
	ListThreads(ctx context.Context, userID, projectID uint) ([]imtypes.ThreadView, error)
}

type discussionService struct {
	msgRepo       storage.MessageRepository
	convRepo      storage.ConversationRepository
	access        access
	writer        messageWriter
	notifications NotificationService
	publisher     dispatch.Publisher
	log           *logger.Logger
}

// NewDiscussionService 创建一个新的 DiscussionService 实例。
func NewDiscussionService(
	msgRepo storage.MessageRepository,
	convRepo storage.ConversationRepository,
	projectRepo storage.ProjectRepository,
	authority sequence.Authority,
	notifications NotificationService,
	publisher dispatch.Publisher,
	maxFiles int,
	log *logger.Logger,
) DiscussionService {
	return &discussionService{
		msgRepo:       msgRepo,
		convRepo:      convRepo,
		access:        access{convRepo: convRepo, projectRepo: projectRepo},
		writer:        messageWriter{msgRepo: msgRepo, seq: authority, maxFiles: maxFiles},
		notifications: notifications,
		publisher:     publisher,
		log:           log.Named("discussion"),
	}
}

func (s *discussionService) Post(ctx context.Context, projectID uint, draft Draft) (*imtypes.MessageView, error) {
	if err := s.writer.validate(&draft); err != nil {
		return nil, err
	}
	if err := s.access.project(ctx, projectID, draft.SenderID); err != nil {
		return nil, err
	}
	conv, err := s.projectConversation(ctx, projectID)
	if err != nil {
		return nil, err
	}
	draft.Mentions, err = s.mentionable(ctx, projectID, draft.SenderID, draft.Mentions)
	if err != nil {
		return nil, err
	}

	msg, err := s.writer.write(ctx, conv, draft, nil)
	if err != nil {
		s.log.Error("发布讨论失败", zap.Uint("project_id", projectID), zap.Uint("user_id", draft.SenderID), zap.Error(err))
		return nil, err
	}
	view := toMessageView(msg)
	publish(ctx, s.publisher, s.log, imtypes.ProjectRoom(projectID), imtypes.EventDiscussionPosted,
		imtypes.DiscussionPostedPayload{ProjectID: projectID, Message: view})

	s.notifyMentions(ctx, projectID, msg, draft.Mentions)
	return &view, nil
}

func (s *discussionService) Reply(ctx context.Context, projectID, parentID uint, draft Draft) (*imtypes.MessageView, error) {
	if err := s.writer.validate(&draft); err != nil {
		return nil, err
	}
	if err := s.access.project(ctx, projectID, draft.SenderID); err != nil {
		return nil, err
	}
	conv, err := s.convRepo.FindByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("获取项目 %d 讨论区失败: %w", projectID, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("帖子 %d: %w", parentID, ErrNotFound)
	}
	parent, err := s.msgRepo.GetByID(ctx, parentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("帖子 %d: %w", parentID, ErrNotFound)
		}
		return nil, fmt.Errorf("获取帖子 %d 失败: %w", parentID, err)
	}
	if parent.ConversationID != conv.ID {
		return nil, fmt.Errorf("帖子 %d 不属于项目 %d: %w", parentID, projectID, ErrNotFound)
	}
	root := parent
	if parent.ParentID != nil {
		root, err = s.msgRepo.GetByID(ctx, *parent.ParentID)
		if err != nil {
			return nil, fmt.Errorf("获取根帖 %d 失败: %w", *parent.ParentID, err)
		}
	}
	draft.Mentions, err = s.mentionable(ctx, projectID, draft.SenderID, draft.Mentions)
	if err != nil {
		return nil, err
	}

	rootID := root.ID
	msg, err := s.writer.write(ctx, conv, draft, &rootID)
	if err != nil {
		s.log.Error("回复讨论失败", zap.Uint("project_id", projectID), zap.Uint("root_id", rootID), zap.Error(err))
		return nil, err
	}
	view := toMessageView(msg)
	publish(ctx, s.publisher, s.log, imtypes.ProjectRoom(projectID), imtypes.EventDiscussionReplied,
		imtypes.DiscussionRepliedPayload{ProjectID: projectID, MsgID: rootID, Reply: view})

	if root.SenderID != draft.SenderID {
		payload := map[string]interface{}{"projectId": projectID, "rootId": rootID, "replyId": msg.ID, "from": draft.SenderID}
		if _, err := s.notifications.Notify(ctx, root.SenderID, models.NotificationReply, payload); err != nil {
			s.log.Warn("创建回复通知失败", zap.Uint("user_id", root.SenderID), zap.Error(err))
		}
	}
	s.notifyMentions(ctx, projectID, msg, draft.Mentions)
	return &view, nil
}

func (s *discussionService) ListThreads(ctx context.Context, userID, projectID uint) ([]imtypes.ThreadView, error) {
	if err := s.access.project(ctx, projectID, userID); err != nil {
		return nil, err
	}
	conv, err := s.convRepo.FindByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("获取项目 %d 讨论区失败: %w", projectID, err)
	}
	threads := []imtypes.ThreadView{}
	if conv == nil {
		return threads, nil
	}

	roots, err := s.msgRepo.ListRoots(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("获取讨论帖失败: %w", err)
	}
	ids := make([]uint, 0, len(roots))
	for _, r := range roots {
		ids = append(ids, r.ID)
	}
	replies, err := s.msgRepo.ListReplies(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取讨论回复失败: %w", err)
	}
	byRoot := make(map[uint][]imtypes.MessageView, len(roots))
	for _, r := range replies {
		byRoot[*r.ParentID] = append(byRoot[*r.ParentID], toMessageView(r))
	}
	for _, r := range roots {
		t := imtypes.ThreadView{Root: toMessageView(r), Replies: byRoot[r.ID]}
		if t.Replies == nil {
			t.Replies = []imtypes.MessageView{}
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// projectConversation 返回项目的讨论会话, 第一次发帖时创建。
func (s *discussionService) projectConversation(ctx context.Context, projectID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.FindByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("获取项目 %d 讨论区失败: %w", projectID, err)
	}
	if conv != nil {
		return conv, nil
	}
	pid := projectID
	conv = &models.Conversation{Kind: models.ProjectConversation, ProjectID: &pid}
	if err := s.convRepo.CreateWithParticipants(ctx, conv, nil); err != nil {
		if !storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("创建项目 %d 讨论区失败: %w", projectID, err)
		}
		conv, err = s.convRepo.FindByProject(ctx, projectID)
		if err != nil || conv == nil {
			return nil, fmt.Errorf("并发创建讨论区后查找失败: %w", err)
		}
	}
	return conv, nil
}

// mentionable 只保留项目成员, 去掉自己。
func (s *discussionService) mentionable(ctx context.Context, projectID, senderID uint, mentions []uint) ([]uint, error) {
	mentions = uniqueIDs(mentions)
	if len(mentions) == 0 {
		return nil, nil
	}
	members, err := s.access.projectRepo.MemberIDs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("获取项目 %d 成员失败: %w", projectID, err)
	}
	isMember := make(map[uint]bool, len(members))
	for _, id := range members {
		isMember[id] = true
	}
	out := mentions[:0]
	for _, id := range mentions {
		if id != senderID && isMember[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *discussionService) notifyMentions(ctx context.Context, projectID uint, msg *models.Message, mentions []uint) {
	for _, uid := range mentions {
		payload := map[string]interface{}{"projectId": projectID, "messageId": msg.ID, "from": msg.SenderID}
		if _, err := s.notifications.Notify(ctx, uid, models.NotificationMention, payload); err != nil {
			s.log.Warn("创建提及通知失败", zap.Uint("user_id", uid), zap.Error(err))
		}
	}
}
