package apiserver

import (
	"net/http"

	"sitechat/internal/services"
	"sitechat/pkg/logger"
)

// GroupHandler 封装了群聊相关的 HTTP 处理器方法。
type GroupHandler struct {
	groups services.GroupService
	log    *logger.Logger
}

// NewGroupHandler 创建一个新的 GroupHandler 实例。
func NewGroupHandler(groups services.GroupService, log *logger.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, log: log.Named("group")}
}

// CreateGroupRequest 定义了创建群聊请求的结构体。
type CreateGroupRequest struct {
	Name      string `json:"name"`
	MemberIDs []uint `json:"memberIds"`
}

// CreateGroupHandler 处理创建群聊的请求。
func (h *GroupHandler) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conv, err := h.groups.Create(r.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, conv)
}

// RenameHandler 修改群聊名称。
func (h *GroupHandler) RenameHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.groups.Rename(r.Context(), userID, groupID, req.Name); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddMembersHandler 添加成员, 返回真正新增的用户 ID。
func (h *GroupHandler) AddMembersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req struct {
		UserIDs []uint `json:"userIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	added, err := h.groups.AddMembers(r.Context(), userID, groupID, req.UserIDs)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if added == nil {
		added = []uint{}
	}
	writeJSONResponse(w, http.StatusOK, map[string][]uint{"added": added})
}

// RemoveMemberHandler 移除成员; 移除自己即退出群聊。
func (h *GroupHandler) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.groups.RemoveMember(r.Context(), userID, groupID, memberID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
