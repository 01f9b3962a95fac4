package apiserver

import (
	"net/http"
	"strconv"

	"sitechat/internal/services"
	"sitechat/pkg/logger"
)

// NotificationHandler 处理通知列表和已读标记。
type NotificationHandler struct {
	notifications services.NotificationService
	log           *logger.Logger
}

func NewNotificationHandler(notifications services.NotificationService, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log.Named("notification")}
}

// ListHandler 支持 ?unread=true 和 ?limit=。
func (h *NotificationHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.notifications.List(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, list)
}

func (h *NotificationHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	notificationID, ok := pathID(w, r, "notificationID")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), userID, notificationID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
