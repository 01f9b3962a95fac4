package apiserver

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitechat/internal/config"
	"sitechat/internal/middleware"
	"sitechat/pkg/logger"
)

// Handlers 汇总 REST 服务的所有处理器。
type Handlers struct {
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Groups        *GroupHandler
	Discussions   *DiscussionHandler
	Notifications *NotificationHandler
	Uploads       *UploadHandler
}

// NewRouter 注册所有路由。authMW 保护 /api/v1; writeLimiter 为 nil 时不限流。
func NewRouter(h Handlers, authMW, writeLimiter func(http.Handler) http.Handler, log *logger.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(log))

	// 公开路由
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/files/{token}", h.Uploads.ServeFileHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW)
	if writeLimiter != nil {
		api.Use(middleware.WritesOnly(writeLimiter))
	}

	// 会话路由
	api.HandleFunc("/conversations", h.Conversations.ListHandler).Methods(http.MethodGet)
	api.HandleFunc("/conversations/direct", h.Conversations.CreateDirectHandler).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", h.Conversations.HistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/messages", h.Conversations.SendHandler).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationID:[0-9]+}/seen", h.Conversations.SeenAnnotationHandler).Methods(http.MethodGet)

	// 消息路由
	api.HandleFunc("/messages/{messageID:[0-9]+}/reactions", h.Messages.ToggleReactionHandler).Methods(http.MethodPost)
	api.HandleFunc("/messages/{messageID:[0-9]+}/seen", h.Messages.MarkSeenHandler).Methods(http.MethodPost)

	// 群聊路由
	api.HandleFunc("/groups", h.Groups.CreateGroupHandler).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupID:[0-9]+}/name", h.Groups.RenameHandler).Methods(http.MethodPut)
	api.HandleFunc("/groups/{groupID:[0-9]+}/members", h.Groups.AddMembersHandler).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupID:[0-9]+}/members/{userID:[0-9]+}", h.Groups.RemoveMemberHandler).Methods(http.MethodDelete)

	// 项目讨论区路由
	api.HandleFunc("/projects/{projectID:[0-9]+}/discussions", h.Discussions.ListThreadsHandler).Methods(http.MethodGet)
	api.HandleFunc("/projects/{projectID:[0-9]+}/discussions", h.Discussions.PostHandler).Methods(http.MethodPost)
	api.HandleFunc("/projects/{projectID:[0-9]+}/discussions/{messageID:[0-9]+}/replies", h.Discussions.ReplyHandler).Methods(http.MethodPost)

	// 通知路由
	api.HandleFunc("/notifications", h.Notifications.ListHandler).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID:[0-9]+}/read", h.Notifications.MarkReadHandler).Methods(http.MethodPost)

	// 附件路由
	api.HandleFunc("/attachments/url", h.Uploads.AttachmentURLHandler).Methods(http.MethodGet)

	return r
}

// WithCORS 按配置把路由包装在 CORS 中间件中。
func WithCORS(cfg config.CORSConfig, next http.Handler) http.Handler {
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods(cfg.AllowedMethods),
		handlers.AllowedHeaders(cfg.AllowedHeaders),
		handlers.ExposedHeaders(cfg.ExposedHeaders),
		handlers.MaxAge(cfg.MaxAge),
	}
	if cfg.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	return handlers.CORS(corsOptions...)(next)
}
