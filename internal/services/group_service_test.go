package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/sequence"
	"sitechat/internal/storage"
	"sitechat/internal/websocket"
	"sitechat/pkg/logger"
)

func TestGroupCreate(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a, b, c := f.users[0], f.users[1], f.users[2]

	conv, err := f.groups.Create(ctx, a, "  Tower A  ", []uint{b, c, b, a})
	require.NoError(t, err)
	assert.Equal(t, "Tower A", conv.Name)
	assert.Equal(t, a, conv.CreatorID)
	assert.Equal(t, []uint{a, b, c}, conv.Participants)

	created := f.rec.Filter(imtypes.EventConversationCreated)
	assert.Equal(t, []string{imtypes.UserRoom(a), imtypes.UserRoom(b), imtypes.UserRoom(c)}, rooms(created))

	notified := f.rec.Filter(imtypes.EventNotificationCreated)
	assert.Equal(t, []string{imtypes.UserRoom(b), imtypes.UserRoom(c)}, rooms(notified))
	n := notified[0].Payload.(imtypes.NotificationCreatedPayload).Notification
	assert.Equal(t, string(models.NotificationGroupAdded), n.Type)
}

func TestGroupCreate_Validation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.groups.Create(ctx, f.users[0], "   ", []uint{f.users[1]})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.groups.Create(ctx, f.users[0], "solo", []uint{f.users[0]})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.groups.Create(ctx, f.users[0], "ghosts", []uint{f.users[1], 404})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupAddMembers_CreatorOnly(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	a, b, c, d := f.users[0], f.users[1], f.users[2], f.users[3]
	conv := f.group(t, a, b)

	_, err := f.groups.AddMembers(ctx, b, conv, []uint{c})
	assert.ErrorIs(t, err, ErrForbidden)

	f.rec.Reset()
	added, err := f.groups.AddMembers(ctx, a, conv, []uint{b, c, d})
	require.NoError(t, err)
	assert.Equal(t, []uint{c, d}, added)

	changed := f.rec.Filter(imtypes.EventMembershipChanged)
	require.Len(t, changed, 4)
	payload := changed[0].Payload.(imtypes.MembershipChangedPayload)
	assert.Equal(t, []uint{a, b, c, d}, payload.Users)
	assert.Equal(t, "site crew", payload.Name)

	assert.Equal(t, []string{imtypes.UserRoom(c), imtypes.UserRoom(d)}, rooms(f.rec.Filter(imtypes.EventConversationCreated)))

	// 已经都是成员时不产生事件
	f.rec.Reset()
	added, err = f.groups.AddMembers(ctx, a, conv, []uint{c})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, f.rec.Events())
}

func TestGroupRemoveMember(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	a, b, c, d := f.users[0], f.users[1], f.users[2], f.users[3]
	conv := f.group(t, a, b, c, d)

	assert.ErrorIs(t, f.groups.RemoveMember(ctx, a, conv, a), ErrForbidden, "creator cannot be removed")
	assert.ErrorIs(t, f.groups.RemoveMember(ctx, b, conv, c), ErrForbidden)

	f.rec.Reset()
	require.NoError(t, f.groups.RemoveMember(ctx, a, conv, c))
	changed := f.rec.Filter(imtypes.EventMembershipChanged)
	assert.ElementsMatch(t,
		[]string{imtypes.UserRoom(a), imtypes.UserRoom(b), imtypes.UserRoom(d), imtypes.UserRoom(c)},
		rooms(changed))
	assert.Equal(t, []uint{a, b, d}, changed[0].Payload.(imtypes.MembershipChangedPayload).Users)

	// 自己退出
	require.NoError(t, f.groups.RemoveMember(ctx, d, conv, d))
	ids, err := f.convRepo.ParticipantIDs(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, []uint{a, b}, ids)

	assert.ErrorIs(t, f.groups.RemoveMember(ctx, a, conv, d), ErrNotFound)
}

func TestGroupRename(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a, b, c := f.users[0], f.users[1], f.users[2]
	conv := f.group(t, a, b)

	assert.ErrorIs(t, f.groups.Rename(ctx, c, conv, "hijack"), ErrNotParticipant)

	f.rec.Reset()
	require.NoError(t, f.groups.Rename(ctx, b, conv, "Tower B"))
	changed := f.rec.Filter(imtypes.EventMembershipChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, "Tower B", changed[0].Payload.(imtypes.MembershipChangedPayload).Name)

	dm := f.direct(t, a, b)
	assert.ErrorIs(t, f.groups.Rename(ctx, a, dm, "nope"), ErrInvalidInput)
}

// drainEvents 读出连接上的所有帧, 直到 100ms 内没有新帧。
func drainEvents(t *testing.T, c *websocket.Client) []imtypes.Envelope {
	t.Helper()
	var out []imtypes.Envelope
	for {
		select {
		case data, ok := <-c.Send():
			if !ok {
				return out
			}
			var env imtypes.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func eventNames(envs []imtypes.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

func TestGroupRemoveMember_StopsLiveDelivery(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b, c := f.users[0], f.users[1], f.users[2]
	log := logger.NewNop()

	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	pub := dispatch.NewHubPublisher(hub)
	userRepo := storage.NewGormUserRepository(f.db)
	groups := NewGroupService(f.convRepo, userRepo, f.notifications, pub, log)
	messages := NewMessageService(f.msgRepo, f.convRepo, f.projectRepo, sequence.NewMemoryAuthority(), pub, testMaxFiles, log)

	conv := f.group(t, a, b, c)
	room := imtypes.ConversationRoom(conv)
	removed := websocket.NewClient(hub, nil, b, nil, config.WebSocketConfig{SendBufferSize: 32})
	stays := websocket.NewClient(hub, nil, c, nil, config.WebSocketConfig{SendBufferSize: 32})
	for _, cl := range []*websocket.Client{removed, stays} {
		require.NoError(t, hub.Register(cl))
		require.NoError(t, hub.Join(cl, room))
	}

	_, err := messages.Send(ctx, conv, Draft{SenderID: a, Body: "before"})
	require.NoError(t, err)
	assert.Contains(t, eventNames(drainEvents(t, removed)), imtypes.EventMessageCreated)
	drainEvents(t, stays)

	require.NoError(t, groups.RemoveMember(ctx, a, conv, b))
	afterRemoval := drainEvents(t, removed)
	assert.Contains(t, eventNames(afterRemoval), imtypes.EventRoomLeft)
	assert.Contains(t, eventNames(afterRemoval), imtypes.EventMembershipChanged)
	assert.NotContains(t, eventNames(afterRemoval), imtypes.EventRoomRevoked)
	assert.NotContains(t, eventNames(drainEvents(t, stays)), imtypes.EventRoomLeft)

	_, err = messages.Send(ctx, conv, Draft{SenderID: a, Body: "secret after removal"})
	require.NoError(t, err)
	assert.Empty(t, drainEvents(t, removed))
	assert.Contains(t, eventNames(drainEvents(t, stays)), imtypes.EventMessageCreated)
}
