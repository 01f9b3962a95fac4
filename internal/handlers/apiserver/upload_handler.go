package apiserver

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/imtypes"
	"sitechat/internal/services"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB, multipart 表单非文件部分保存在内存中的上限
	formOverhead     = 1 << 20
)

// draftRequest 是 JSON 形式的发送请求 (不带附件时可以不用 multipart)。
type draftRequest struct {
	Text     string `json:"text"`
	ClientID string `json:"clientId"`
	Mentions []uint `json:"mentions"`
}

// UploadHandler 负责附件的上传、签名 URL 和下载。
type UploadHandler struct {
	storageService imtypes.StorageService
	messages       services.MessageService
	cfg            config.StorageConfig
	signingKey     string
	log            *logger.Logger
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(storageService imtypes.StorageService, messages services.MessageService, cfg config.StorageConfig, signingKey string, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		storageService: storageService,
		messages:       messages,
		cfg:            cfg,
		signingKey:     signingKey,
		log:            log.Named("upload"),
	}
}

func (h *UploadHandler) maxFileSize() int64 {
	if h.cfg.MaxFileSizeMB <= 0 {
		return defaultMaxMemory
	}
	return h.cfg.MaxFileSizeMB << 20
}

// parseDraft 读取发送请求: multipart (text, clientId, mentions, files) 或 JSON。
// 上传成功的文件在 cleanup 中删除, 调用方在写入失败时调用它。
func (h *UploadHandler) parseDraft(w http.ResponseWriter, r *http.Request, senderID uint) (draft services.Draft, cleanup func(), ok bool) {
	cleanup = func() {}
	draft.SenderID = senderID

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req draftRequest
		if !decodeJSON(w, r, &req) {
			return draft, cleanup, false
		}
		draft.Body, draft.ClientID, draft.Mentions = req.Text, req.ClientID, req.Mentions
		return draft, cleanup, true
	}

	maxFiles := h.cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*h.maxFileSize()+formOverhead)
	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, fmt.Sprintf("上传文件过大，单个文件最大允许 %d MB", h.maxFileSize()>>20), http.StatusRequestEntityTooLarge)
		} else {
			writeJSONError(w, fmt.Sprintf("解析表单失败: %v", err), http.StatusBadRequest)
		}
		return draft, cleanup, false
	}

	draft.Body = r.FormValue("text")
	draft.ClientID = r.FormValue("clientId")
	for _, raw := range r.MultipartForm.Value["mentions"] {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
			if err != nil {
				writeJSONError(w, "mentions 格式无效", http.StatusBadRequest)
				return draft, cleanup, false
			}
			draft.Mentions = append(draft.Mentions, uint(id))
		}
	}

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["files[]"]...)
	if len(headers) > maxFiles {
		writeJSONError(w, fmt.Sprintf("附件数量不能超过 %d", maxFiles), http.StatusBadRequest)
		return draft, cleanup, false
	}

	var uploaded []string
	cleanup = func() {
		for _, p := range uploaded {
			if err := h.storageService.DeleteFile(r.Context(), p); err != nil {
				h.log.Warn("删除上传文件失败", zap.String("path", p), zap.Error(err))
			}
		}
	}
	for _, fh := range headers {
		if fh.Size > h.maxFileSize() {
			cleanup()
			writeJSONError(w, fmt.Sprintf("上传文件过大，单个文件最大允许 %d MB", h.maxFileSize()>>20), http.StatusRequestEntityTooLarge)
			return draft, func() {}, false
		}
		file, err := fh.Open()
		if err != nil {
			cleanup()
			writeJSONError(w, fmt.Sprintf("读取文件失败: %v", err), http.StatusBadRequest)
			return draft, func() {}, false
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		info, err := h.storageService.UploadFile(r.Context(), file, fh.Size, fh.Filename, mimeType)
		file.Close()
		if err != nil {
			cleanup()
			h.log.Error("存储文件失败", zap.String("file_name", fh.Filename), zap.Error(err))
			writeJSONError(w, "存储文件失败", http.StatusInternalServerError)
			return draft, func() {}, false
		}
		uploaded = append(uploaded, info.Path)
		draft.Files = append(draft.Files, *info)
	}
	return draft, cleanup, true
}

// AttachmentURLHandler 用存储路径换取短期签名 URL。只有能访问附件所属会话的用户可以换取。
func (h *UploadHandler) AttachmentURLHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if err := h.messages.AuthorizeAttachment(r.Context(), userID, path); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	token, expires, err := auth.SignFilePath(path, h.signingKey, h.cfg.SignedURLTTL)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"url":       strings.TrimSuffix(h.cfg.PublicBaseURL, "/") + "/files/" + token,
		"expiresAt": expires.UnixMilli(),
	})
}

// ServeFileHandler 校验下载令牌后返回文件内容。路由不需要登录, 令牌本身就是授权。
func (h *UploadHandler) ServeFileHandler(w http.ResponseWriter, r *http.Request) {
	path, err := auth.VerifyFileToken(mux.Vars(r)["token"], h.signingKey)
	if err != nil {
		writeJSONError(w, "下载链接无效或已过期", http.StatusForbidden)
		return
	}
	file, err := h.storageService.Open(r.Context(), path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidStoragePath) {
			writeJSONError(w, "文件不存在", http.StatusNotFound)
			return
		}
		writeServiceError(w, r, h.log, err)
		return
	}
	defer file.Close()
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeContent(w, r, path, time.Time{}, file)
}
