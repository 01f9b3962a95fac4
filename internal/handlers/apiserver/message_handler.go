package apiserver

import (
	"net/http"

	"sitechat/internal/services"
	"sitechat/pkg/logger"
)

// MessageHandler 处理单条消息上的操作: 表情回应和已读。
type MessageHandler struct {
	messages services.MessageService
	seen     services.SeenService
	log      *logger.Logger
}

func NewMessageHandler(messages services.MessageService, seen services.SeenService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, seen: seen, log: log.Named("message")}
}

// ToggleReactionHandler 设置或取消表情。
func (h *MessageHandler) ToggleReactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	changed, err := h.messages.ToggleReaction(r.Context(), userID, messageID, req.Emoji)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, changed)
}

// MarkSeenHandler 标记消息已读。自己的消息返回 204。
func (h *MessageHandler) MarkSeenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	seen, err := h.seen.RecordSeen(r.Context(), userID, messageID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if seen == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONResponse(w, http.StatusOK, seen)
}
