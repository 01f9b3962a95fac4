package chatserver

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	ws "sitechat/internal/websocket"
	"sitechat/pkg/logger"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
// 只有携带有效令牌的连接才会进入 Hub, 匿名连接在升级前被拒绝。
type WebSocketHandler struct {
	ctx        context.Context
	hub        *ws.Hub
	authorizer ws.Authorizer
	blacklist  auth.TokenBlacklist
	cfg        config.Config
	log        *logger.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
// ctx 是服务器的生命周期, 连接的读循环在它取消时退出; blacklist 可以为 nil。
func NewWebSocketHandler(ctx context.Context, hub *ws.Hub, authorizer ws.Authorizer, blacklist auth.TokenBlacklist, cfg config.Config, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:        ctx,
		hub:        hub,
		authorizer: authorizer,
		blacklist:  blacklist,
		cfg:        cfg,
		log:        log.Named("ws"),
	}
}

// ServeWS 校验 ?token= 后将 HTTP 连接升级为 WebSocket 连接。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		h.log.Info("WebSocket 连接被拒绝: 令牌无效", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}
	h.log.Debug("用户尝试连接 WebSocket", zap.Uint("user_id", claims.UserID), zap.String("username", claims.Username))

	ws.ServeWs(h.ctx, h.hub, h.authorizer, claims.UserID, w, r, h.cfg.WebSocket)
}
