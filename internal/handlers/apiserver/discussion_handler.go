package apiserver

import (
	"net/http"

	"sitechat/internal/services"
	"sitechat/pkg/logger"
)

// DiscussionHandler 处理项目讨论区。
type DiscussionHandler struct {
	discussions services.DiscussionService
	uploads     *UploadHandler
	log         *logger.Logger
}

func NewDiscussionHandler(discussions services.DiscussionService, uploads *UploadHandler, log *logger.Logger) *DiscussionHandler {
	return &DiscussionHandler{discussions: discussions, uploads: uploads, log: log.Named("discussion")}
}

func (h *DiscussionHandler) ListThreadsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	threads, err := h.discussions.ListThreads(r.Context(), userID, projectID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, threads)
}

func (h *DiscussionHandler) PostHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	draft, cleanup, ok := h.uploads.parseDraft(w, r, userID)
	if !ok {
		return
	}
	msg, err := h.discussions.Post(r.Context(), projectID, draft)
	if err != nil {
		cleanup()
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

func (h *DiscussionHandler) ReplyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	parentID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	draft, cleanup, ok := h.uploads.parseDraft(w, r, userID)
	if !ok {
		return
	}
	msg, err := h.discussions.Reply(r.Context(), projectID, parentID, draft)
	if err != nil {
		cleanup()
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}
