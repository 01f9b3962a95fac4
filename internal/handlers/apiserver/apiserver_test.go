package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/middleware"
	"sitechat/internal/sequence"
	"sitechat/internal/services"
	"sitechat/internal/storage"
	"sitechat/internal/storage/storagetest"
	"sitechat/pkg/logger"
)

const testSecret = "test-secret"

type server struct {
	t       *testing.T
	handler http.Handler
	rec     *dispatch.Recorder
	users   []uint
	tokens  map[uint]string
	project storage.ProjectRepository
}

func newServer(t *testing.T, writeLimiter func(http.Handler) http.Handler) *server {
	t.Helper()
	db := storagetest.NewDB(t)
	log := logger.NewNop()
	rec := &dispatch.Recorder{}
	users := storagetest.SeedUsers(t, db, 3)

	storageCfg := config.StorageConfig{
		Type:          "local",
		LocalPath:     t.TempDir(),
		MaxFileSizeMB: 1,
		MaxFiles:      2,
		SignedURLTTL:  time.Minute,
		PublicBaseURL: "http://files.test",
	}
	files, err := storage.NewLocalStorageService(storageCfg)
	require.NoError(t, err)

	convRepo := storage.NewGormConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	userRepo := storage.NewGormUserRepository(db)
	projectRepo := storage.NewGormProjectRepository(db)
	authority := sequence.NewMemoryAuthority()

	notifications := services.NewNotificationService(storage.NewGormNotificationRepository(db), rec, log)
	conversations := services.NewConversationService(convRepo, userRepo, projectRepo, rec, log)
	messages := services.NewMessageService(msgRepo, convRepo, projectRepo, authority, rec, storageCfg.MaxFiles, log)
	seen := services.NewSeenService(msgRepo, convRepo, projectRepo, rec, log)
	groups := services.NewGroupService(convRepo, userRepo, notifications, rec, log)
	discussions := services.NewDiscussionService(msgRepo, convRepo, projectRepo, authority, notifications, rec, storageCfg.MaxFiles, log)

	uploads := NewUploadHandler(files, messages, storageCfg, testSecret, log)
	router := NewRouter(Handlers{
		Conversations: NewConversationHandler(conversations, messages, seen, uploads, log),
		Messages:      NewMessageHandler(messages, seen, log),
		Groups:        NewGroupHandler(groups, log),
		Discussions:   NewDiscussionHandler(discussions, uploads, log),
		Notifications: NewNotificationHandler(notifications, log),
		Uploads:       uploads,
	}, middleware.AuthMiddleware(testSecret, nil), writeLimiter, log)

	s := &server{t: t, handler: router, rec: rec, users: users, tokens: map[uint]string{}, project: projectRepo}
	for i, id := range users {
		token, err := auth.GenerateToken(id, "user"+strconv.Itoa(i+1), "staff", config.AuthConfig{JWTSecretKey: testSecret, JWTExpiry: time.Hour})
		require.NoError(t, err)
		s.tokens[id] = token
	}
	return s
}

func (s *server) do(user uint, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user != 0 {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) json(user uint, method, path string, payload interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(data)
	}
	return s.do(user, method, path, body, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestRequiresAuthentication(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(0, http.MethodGet, "/api/v1/conversations", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(0, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDirectConversationAndMessages(t *testing.T) {
	s := newServer(t, nil)
	a, b, c := s.users[0], s.users[1], s.users[2]

	rec := s.json(a, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": b})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[imtypes.ConversationView](t, rec)

	rec = s.json(b, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": a})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conv.ID, decode[imtypes.ConversationView](t, rec).ID)

	path := "/api/v1/conversations/" + strconv.Itoa(int(conv.ID)) + "/messages"
	rec = s.json(a, http.MethodPost, path, map[string]string{"text": "concrete at 7", "clientId": "tmp-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[imtypes.MessageView](t, rec)
	assert.Equal(t, "tmp-1", sent.ClientID)
	assert.Equal(t, int64(1), sent.Sequence)
	assert.Len(t, s.rec.Filter(imtypes.EventMessageCreated), 1)

	rec = s.json(a, http.MethodPost, path, map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(c, http.MethodPost, path, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(b, http.MethodGet, path+"?afterSequence=0&limit=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]imtypes.MessageView](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)

	rec = s.do(b, http.MethodGet, path+"?afterSequence=x", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(a, http.MethodGet, "/api/v1/conversations/999/messages", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(b, http.MethodGet, "/api/v1/conversations", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]imtypes.ConversationView](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "concrete at 7", list[0].LastEvent.ContentPreview)
}

func TestSeenAndReactions(t *testing.T) {
	s := newServer(t, nil)
	a, b := s.users[0], s.users[1]
	rec := s.json(a, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": b})
	conv := decode[imtypes.ConversationView](t, rec)
	convPath := "/api/v1/conversations/" + strconv.Itoa(int(conv.ID))
	msg := decode[imtypes.MessageView](t, s.json(a, http.MethodPost, convPath+"/messages", map[string]string{"text": "ok?"}))
	msgPath := "/api/v1/messages/" + strconv.Itoa(int(msg.ID))

	rec = s.do(a, http.MethodPost, msgPath+"/seen", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(b, http.MethodPost, msgPath+"/seen", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(a, http.MethodGet, convPath+"/seen", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	ann := decode[imtypes.SeenAnnotation](t, rec)
	assert.Equal(t, msg.ID, ann.MessageID)
	assert.Equal(t, []uint{b}, ann.SeenBy)

	rec = s.json(b, http.MethodPost, msgPath+"/reactions", map[string]string{"emoji": "👍"})
	require.Equal(t, http.StatusOK, rec.Code)
	changed := decode[imtypes.ReactionChangedPayload](t, rec)
	assert.Equal(t, []imtypes.ReactionView{{UserID: b, Emoji: "👍"}}, changed.Reactions)
}

func TestAttachmentUploadAndSignedDownload(t *testing.T) {
	s := newServer(t, nil)
	a, b, c := s.users[0], s.users[1], s.users[2]
	conv := decode[imtypes.ConversationView](t, s.json(a, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": b}))
	path := "/api/v1/conversations/" + strconv.Itoa(int(conv.ID)) + "/messages"

	body, contentType := multipartBody(t, map[string]string{"clientId": "up-1"}, map[string]string{"plan.txt": "level 3 slab"})
	rec := s.do(a, http.MethodPost, path, body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[imtypes.MessageView](t, rec)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "plan.txt", msg.Attachments[0].Name)
	storagePath := msg.Attachments[0].Path

	rec = s.do(c, http.MethodGet, "/api/v1/attachments/url?path="+storagePath, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(b, http.MethodGet, "/api/v1/attachments/url?path="+storagePath, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	signed := decode[struct {
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expiresAt"`
	}](t, rec)
	require.True(t, strings.HasPrefix(signed.URL, "http://files.test/files/"))
	assert.Greater(t, signed.ExpiresAt, time.Now().UnixMilli())

	rec = s.do(0, http.MethodGet, strings.TrimPrefix(signed.URL, "http://files.test"), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "level 3 slab", rec.Body.String())

	rec = s.do(0, http.MethodGet, "/files/not-a-token", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAttachmentLimits(t *testing.T) {
	s := newServer(t, nil)
	a, b := s.users[0], s.users[1]
	conv := decode[imtypes.ConversationView](t, s.json(a, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": b}))
	path := "/api/v1/conversations/" + strconv.Itoa(int(conv.ID)) + "/messages"

	body, contentType := multipartBody(t, nil, map[string]string{"a.txt": "1", "b.txt": "2", "c.txt": "3"})
	rec := s.do(a, http.MethodPost, path, body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = multipartBody(t, nil, map[string]string{"big.bin": strings.Repeat("x", 1<<20+1)})
	rec = s.do(a, http.MethodPost, path, body, contentType)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGroupEndpoints(t *testing.T) {
	s := newServer(t, nil)
	a, b, c := s.users[0], s.users[1], s.users[2]

	rec := s.json(a, http.MethodPost, "/api/v1/groups", CreateGroupRequest{Name: "", MemberIDs: []uint{b}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(a, http.MethodPost, "/api/v1/groups", CreateGroupRequest{Name: "Foremen", MemberIDs: []uint{b}})
	require.Equal(t, http.StatusCreated, rec.Code)
	group := decode[imtypes.ConversationView](t, rec)
	groupPath := "/api/v1/groups/" + strconv.Itoa(int(group.ID))

	rec = s.json(b, http.MethodPost, groupPath+"/members", map[string][]uint{"userIds": {c}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.json(a, http.MethodPost, groupPath+"/members", map[string][]uint{"userIds": {c}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint{c}, decode[map[string][]uint](t, rec)["added"])

	rec = s.json(c, http.MethodPut, groupPath+"/name", map[string]string{"name": "Night shift"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(b, http.MethodDelete, groupPath+"/members/"+strconv.Itoa(int(c)), nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(c, http.MethodDelete, groupPath+"/members/"+strconv.Itoa(int(c)), nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDiscussionAndNotificationEndpoints(t *testing.T) {
	s := newServer(t, nil)
	a, b, outsider := s.users[0], s.users[1], s.users[2]
	ctx := context.Background()
	require.NoError(t, s.project.AddMember(ctx, 7, a))
	require.NoError(t, s.project.AddMember(ctx, 7, b))

	rec := s.json(outsider, http.MethodGet, "/api/v1/projects/7/discussions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, contentType := multipartBody(t, map[string]string{"text": "Scaffold check", "mentions": strconv.Itoa(int(b))}, nil)
	rec = s.do(a, http.MethodPost, "/api/v1/projects/7/discussions", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	root := decode[imtypes.MessageView](t, rec)
	assert.Equal(t, []uint{b}, root.Mentions)

	replyPath := "/api/v1/projects/7/discussions/" + strconv.Itoa(int(root.ID)) + "/replies"
	rec = s.json(b, http.MethodPost, replyPath, map[string]string{"text": "passed"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(a, http.MethodGet, "/api/v1/projects/7/discussions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	threads := decode[[]imtypes.ThreadView](t, rec)
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Replies, 1)

	rec = s.do(b, http.MethodGet, "/api/v1/notifications?unread=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decode[[]imtypes.NotificationView](t, rec)
	require.Len(t, notes, 1)
	assert.Equal(t, "mention", notes[0].Type)

	notePath := "/api/v1/notifications/" + strconv.Itoa(int(notes[0].ID)) + "/read"
	assert.Equal(t, http.StatusNotFound, s.do(a, http.MethodPost, notePath, nil, "").Code)
	assert.Equal(t, http.StatusNoContent, s.do(b, http.MethodPost, notePath, nil, "").Code)
}

func TestWriteRateLimit(t *testing.T) {
	s := newServer(t, middleware.UserRateLimit(1, time.Minute))
	a, b := s.users[0], s.users[1]

	rec := s.json(a, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": b})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.json(a, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": b})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// 读请求不受限, 其他用户有自己的额度
	assert.Equal(t, http.StatusOK, s.do(a, http.MethodGet, "/api/v1/conversations", nil, "").Code)
	assert.Equal(t, http.StatusOK, s.json(b, http.MethodPost, "/api/v1/conversations/direct", map[string]uint{"userId": a}).Code)
}
