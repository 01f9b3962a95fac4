package services

import (
	"context"
	"fmt"

	"sitechat/internal/imtypes"
	"sitechat/internal/storage"
)

// RoomAuthorizer 决定用户能否进入房间, 供 websocket 连接处理 join 指令时使用。
type RoomAuthorizer struct {
	access access
}

func NewRoomAuthorizer(convRepo storage.ConversationRepository, projectRepo storage.ProjectRepository) *RoomAuthorizer {
	return &RoomAuthorizer{access: access{convRepo: convRepo, projectRepo: projectRepo}}
}

func (a *RoomAuthorizer) CanJoin(ctx context.Context, userID uint, room string) (bool, error) {
	kind, id, err := imtypes.ParseRoom(room)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	switch kind {
	case imtypes.RoomUser:
		return id == userID, nil
	case imtypes.RoomProject:
		return a.access.projectRepo.IsMember(ctx, id, userID)
	default:
		conv, err := a.access.convRepo.GetByID(ctx, id)
		if err != nil {
			if storage.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return a.access.canAccess(ctx, conv, userID)
	}
}
