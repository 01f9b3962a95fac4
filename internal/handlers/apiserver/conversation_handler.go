package apiserver

import (
	"net/http"
	"strconv"

	"sitechat/internal/services"
	"sitechat/pkg/logger"
)

// ConversationHandler 封装了会话和聊天消息相关的 HTTP 处理器方法。
type ConversationHandler struct {
	conversations services.ConversationService
	messages      services.MessageService
	seen          services.SeenService
	uploads       *UploadHandler
	log           *logger.Logger
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(
	conversations services.ConversationService,
	messages services.MessageService,
	seen services.SeenService,
	uploads *UploadHandler,
	log *logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		seen:          seen,
		uploads:       uploads,
		log:           log.Named("conversation"),
	}
}

// ListHandler 获取当前用户的会话列表, 空会话置顶, 其余按最后消息倒序。
func (h *ConversationHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.conversations.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, list)
}

// CreateDirectHandler 获取或创建与目标用户的私聊。新建时返回 201。
func (h *ConversationHandler) CreateDirectHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"userId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	conv, created, err := h.conversations.GetOrCreateDirect(r.Context(), userID, req.UserID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, conv)
}

// HistoryHandler 返回会话消息, 支持 limit 和 afterSequence (断线后补拉)。
func (h *ConversationHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	afterSequence, err := strconv.ParseInt(query.Get("afterSequence"), 10, 64)
	if err != nil && query.Get("afterSequence") != "" {
		writeJSONError(w, "afterSequence 无效", http.StatusBadRequest)
		return
	}

	messages, err := h.messages.History(r.Context(), userID, conversationID, afterSequence, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// SendHandler 发送消息, 接受 multipart (text, clientId, files) 或 JSON。
func (h *ConversationHandler) SendHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	draft, cleanup, ok := h.uploads.parseDraft(w, r, userID)
	if !ok {
		return
	}
	msg, err := h.messages.Send(r.Context(), conversationID, draft)
	if err != nil {
		cleanup()
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// SeenAnnotationHandler 返回当前用户视角下应显示的已读标记, 没有时返回 null。
func (h *ConversationHandler) SeenAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathID(w, r, "conversationID")
	if !ok {
		return
	}
	ann, err := h.seen.Annotation(r.Context(), userID, conversationID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ann)
}
