package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sitechat/internal/middleware"
	"sitechat/internal/services"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

// ErrorResponse 是错误响应的 JSON 结构。
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 格式的响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		// 头部已经发出, 编码失败也无法再返回错误
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// writeServiceError 把服务层的哨兵错误映射成状态码; 其他错误记录日志后返回 500。
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrForbidden):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	default:
		username, _ := middleware.GetUsernameFromContext(r.Context())
		log.Error("请求处理失败",
			zap.String("path", r.URL.Path),
			zap.String("username", username),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err))
		writeJSONError(w, "服务器内部错误", http.StatusInternalServerError)
	}
}

// currentUser 从上下文取出已认证的用户, 失败时已写入 401。
func currentUser(w http.ResponseWriter, r *http.Request) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
	}
	return userID, ok
}

// pathID 解析路由变量中的数字 ID, 失败时已写入 400。
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := storage.StrToUint(mux.Vars(r)[name])
	if err != nil || id == 0 {
		writeJSONError(w, "无效的 "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, "无效的请求体", http.StatusBadRequest)
		return false
	}
	return true
}
