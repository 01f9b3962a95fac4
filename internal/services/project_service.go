package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

// ProjectService 维护项目成员关系, 它决定谁能进入项目房间和讨论区。
type ProjectService interface {
	AddMember(ctx context.Context, projectID, userID uint) error
	RemoveMember(ctx context.Context, projectID, userID uint) error
}

type projectService struct {
	projectRepo storage.ProjectRepository
	convRepo    storage.ConversationRepository
	userRepo    storage.UserRepository
	publisher   dispatch.Publisher
	log         *logger.Logger
}

// NewProjectService 创建一个新的 ProjectService 实例。
func NewProjectService(
	projectRepo storage.ProjectRepository,
	convRepo storage.ConversationRepository,
	userRepo storage.UserRepository,
	publisher dispatch.Publisher,
	log *logger.Logger,
) ProjectService {
	return &projectService{projectRepo: projectRepo, convRepo: convRepo, userRepo: userRepo, publisher: publisher, log: log.Named("project")}
}

func (s *projectService) AddMember(ctx context.Context, projectID, userID uint) error {
	if projectID == 0 || userID == 0 {
		return invalid("项目ID和用户ID必须为正数")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("用户 %d: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("获取用户 %d 失败: %w", userID, err)
	}
	if err := s.projectRepo.AddMember(ctx, projectID, userID); err != nil {
		return fmt.Errorf("添加项目 %d 成员失败: %w", projectID, err)
	}
	s.log.Info("项目成员已添加", zap.Uint("project_id", projectID), zap.Uint("user_id", userID))
	return nil
}

// RemoveMember 删除成员关系, 并让该用户所有在线连接离开项目房间和讨论区的会话房间。
func (s *projectService) RemoveMember(ctx context.Context, projectID, userID uint) error {
	if err := s.projectRepo.RemoveMember(ctx, projectID, userID); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("用户 %d 不在项目 %d 中: %w", userID, projectID, ErrNotFound)
		}
		return fmt.Errorf("移除项目 %d 成员失败: %w", projectID, err)
	}
	s.log.Info("项目成员已移除", zap.Uint("project_id", projectID), zap.Uint("user_id", userID))
	revoked := imtypes.RoomRevokedPayload{UserID: userID}
	publish(ctx, s.publisher, s.log, imtypes.ProjectRoom(projectID), imtypes.EventRoomRevoked, revoked)
	conv, err := s.convRepo.FindByProject(ctx, projectID)
	if err != nil {
		s.log.Warn("查询项目讨论区失败", zap.Uint("project_id", projectID), zap.Error(err))
		return nil
	}
	if conv != nil {
		publish(ctx, s.publisher, s.log, imtypes.ConversationRoom(conv.ID), imtypes.EventRoomRevoked, revoked)
	}
	return nil
}
