package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	appRedis "sitechat/internal/redis"
	"sitechat/internal/storage"
	"sitechat/internal/storage/storagetest"
	"sitechat/pkg/logger"
)

func newTestOptions(t *testing.T) (*RootOptions, *gorm.DB) {
	t.Helper()
	db := storagetest.NewDB(t)
	return &RootOptions{
		db:  db,
		log: logger.NewNop(),
		cfg: config.Config{
			Auth:      config.AuthConfig{JWTSecretKey: "admin-secret", JWTExpiry: time.Hour},
			Retention: config.RetentionConfig{MaxAge: 24 * time.Hour},
		},
	}, db
}

func run(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	opts, _ := newTestOptions(t)
	_, err := run(t, opts, "--format", "xml", "sequence", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestShowConversation(t *testing.T) {
	opts, db := newTestOptions(t)
	ids := storagetest.SeedUsers(t, db, 2)
	repo := storage.NewGormConversationRepository(db)
	conv := &models.Conversation{Kind: models.GroupConversation, Name: "rebar crew", CreatorID: ids[0]}
	require.NoError(t, repo.CreateWithParticipants(context.Background(), conv, ids))

	out, err := run(t, opts, "show-conversation", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "rebar crew")
	assert.Contains(t, out, "还没有消息")

	out, err = run(t, opts, "--format", "json", "show-conversation", "1")
	require.NoError(t, err)
	var got struct {
		Kind         string `json:"kind"`
		Participants []uint `json:"participants"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "group", got.Kind)
	assert.ElementsMatch(t, ids, got.Participants)

	_, err = run(t, opts, "show-conversation", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不存在")

	_, err = run(t, opts, "show-conversation", "abc")
	require.Error(t, err)
}

func TestListParticipants(t *testing.T) {
	opts, db := newTestOptions(t)
	ids := storagetest.SeedUsers(t, db, 3)
	conv := &models.Conversation{Kind: models.GroupConversation, Name: "site", CreatorID: ids[0]}
	require.NoError(t, storage.NewGormConversationRepository(db).CreateWithParticipants(context.Background(), conv, ids))

	out, err := run(t, opts, "--format", "json", "list-participants", "1")
	require.NoError(t, err)
	var rows []struct {
		UserID uint   `json:"userId"`
		Name   string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	names := []string{rows[0].Name, rows[1].Name, rows[2].Name}
	assert.ElementsMatch(t, []string{"User 1", "User 2", "User 3"}, names)
}

func TestSequence_EmptyConversation(t *testing.T) {
	opts, _ := newTestOptions(t)
	out, err := run(t, opts, "--format", "json", "sequence", "7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequence":0,"timestamp":0}`, out)
}

func TestCreateUserAndToken(t *testing.T) {
	opts, db := newTestOptions(t)

	_, err := run(t, opts, "create-user", "--username", "pm1", "--role", "pm", "--nickname", "Site PM")
	require.NoError(t, err)

	_, err = run(t, opts, "create-user", "--username", "pm1")
	require.Error(t, err)

	_, err = run(t, opts, "create-user", "--username", "x", "--role", "janitor")
	require.Error(t, err)

	user, err := storage.NewGormUserRepository(db).GetByUsername(context.Background(), "pm1")
	require.NoError(t, err)
	assert.Equal(t, models.RolePM, user.Role)

	out, err := run(t, opts, "token", "pm1")
	require.NoError(t, err)
	claims, err := auth.ValidateToken(context.Background(), string(bytes.TrimSpace([]byte(out))), "admin-secret", nil)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = run(t, opts, "token", "nobody")
	require.Error(t, err)
}

func TestAddProjectMember(t *testing.T) {
	opts, db := newTestOptions(t)
	ids := storagetest.SeedUsers(t, db, 1)

	_, err := run(t, opts, "add-project-member", "--project", "5", "--user", "1")
	require.NoError(t, err)
	ok, err := storage.NewGormProjectRepository(db).IsMember(context.Background(), 5, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = run(t, opts, "add-project-member", "--project", "5", "--user", "42")
	require.Error(t, err)
}

func TestRemoveProjectMember_RevokesProjectRoom(t *testing.T) {
	opts, db := newTestOptions(t)
	ids := storagetest.SeedUsers(t, db, 1)
	rec := &dispatch.Recorder{}
	opts.publisher = rec

	_, err := run(t, opts, "add-project-member", "--project", "5", "--user", "1")
	require.NoError(t, err)
	out, err := run(t, opts, "--format", "json", "remove-project-member", "--project", "5", "--user", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"projectId":5,"userId":1,"revoked":true}`, out)

	ok, err := storage.NewGormProjectRepository(db).IsMember(context.Background(), 5, ids[0])
	require.NoError(t, err)
	assert.False(t, ok)
	revoked := rec.Filter(imtypes.EventRoomRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, imtypes.ProjectRoom(5), revoked[0].Room)

	_, err = run(t, opts, "remove-project-member", "--project", "5", "--user", "1")
	require.Error(t, err)
}

func TestRemoveProjectMember_LocalBrokerWarns(t *testing.T) {
	opts, db := newTestOptions(t)
	storagetest.SeedUsers(t, db, 1)
	_, err := run(t, opts, "add-project-member", "--project", "5", "--user", "1")
	require.NoError(t, err)

	out, err := run(t, opts, "--format", "json", "remove-project-member", "--project", "5", "--user", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"projectId":5,"userId":1,"revoked":false}`, out)
}

func TestRevokeToken(t *testing.T) {
	opts, db := newTestOptions(t)
	storagetest.SeedUsers(t, db, 1)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	blacklist := appRedis.NewRedisTokenBlacklist(client)
	opts.blacklist = blacklist

	out, err := run(t, opts, "token", "user1")
	require.NoError(t, err)
	token := string(bytes.TrimSpace([]byte(out)))
	_, err = auth.ValidateToken(context.Background(), token, "admin-secret", blacklist)
	require.NoError(t, err)

	_, err = run(t, opts, "revoke-token", token)
	require.NoError(t, err)
	_, err = auth.ValidateToken(context.Background(), token, "admin-secret", blacklist)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	_, err = run(t, opts, "revoke-token", "not-a-jwt")
	require.Error(t, err)
}

func TestRevokeToken_RequiresRedis(t *testing.T) {
	opts, db := newTestOptions(t)
	storagetest.SeedUsers(t, db, 1)
	out, err := run(t, opts, "token", "user1")
	require.NoError(t, err)

	_, err = run(t, opts, "revoke-token", string(bytes.TrimSpace([]byte(out))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestPurgeNotifications(t *testing.T) {
	opts, db := newTestOptions(t)
	ids := storagetest.SeedUsers(t, db, 1)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Create(&models.Notification{RecipientID: ids[0], Type: models.NotificationReply, Read: true, ReadAt: &old}).Error)
	require.NoError(t, db.Create(&models.Notification{RecipientID: ids[0], Type: models.NotificationReply}).Error)

	out, err := run(t, opts, "--format", "json", "purge-notifications")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":1}`, out)

	var left int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&left).Error)
	assert.Equal(t, int64(1), left)
}
