package syncstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/imtypes"
)

type fakeRooms struct {
	actions []string
}

func (f *fakeRooms) Join(room string) error {
	f.actions = append(f.actions, "join "+room)
	return nil
}

func (f *fakeRooms) Leave(room string) error {
	f.actions = append(f.actions, "leave "+room)
	return nil
}

func envelope(t *testing.T, room, event string, payload interface{}) imtypes.Envelope {
	t.Helper()
	raw, err := imtypes.NewEnvelope(room, event, payload)
	require.NoError(t, err)
	var env imtypes.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestSession_SwitchLeavesPreviousRoomAndDropsStaleFetch(t *testing.T) {
	rooms := &fakeRooms{}
	s := NewSession(me, rooms)

	slow, err := s.Open(10)
	require.NoError(t, err)
	fast, err := s.Open(11)
	require.NoError(t, err)

	assert.Equal(t, []string{"join conversation:10", "leave conversation:10", "join conversation:11"}, rooms.actions)

	assert.True(t, s.DeliverHistory(fast, []imtypes.MessageView{{ID: 1, ConversationID: 11, SenderID: other, Timestamp: 1, Sequence: 1}}))
	// 针对旧会话的慢请求后到, 被丢弃
	assert.False(t, s.DeliverHistory(slow, []imtypes.MessageView{{ID: 2, ConversationID: 10, SenderID: other, Timestamp: 1, Sequence: 1}}))

	assert.Len(t, s.Messages(11), 1)
	assert.Empty(t, s.Messages(10))
}

func TestSession_SendRoundTrip(t *testing.T) {
	s := NewSession(me, &fakeRooms{})
	_, err := s.Open(10)
	require.NoError(t, err)

	_, _, err = s.Send("", nil, 0)
	assert.Error(t, err)

	convID, p, err := s.Send("rebar delivered", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, uint(10), convID)

	view := imtypes.MessageView{ID: 99, ClientID: p.ClientID, ConversationID: 10, SenderID: me, Body: "rebar delivered", Timestamp: 100, Sequence: 4}
	_, err = s.HandleEnvelope(envelope(t, imtypes.ConversationRoom(10), imtypes.EventMessageCreated, imtypes.MessageCreatedPayload{ConversationID: 10, Message: view}))
	require.NoError(t, err)
	s.SendSucceeded(view)

	entries := s.Messages(10)
	require.Len(t, entries, 1)
	assert.Equal(t, uint(99), entries[0].ID)
	assert.False(t, entries[0].Pending)
}

func TestSession_SendFailedRestoresDraft(t *testing.T) {
	s := NewSession(me, &fakeRooms{})
	_, err := s.Open(10)
	require.NoError(t, err)
	convID, p, err := s.Send("hello", nil, 1)
	require.NoError(t, err)

	draft, ok := s.SendFailed(convID, p.TempID)
	require.True(t, ok)
	assert.Equal(t, "hello", draft.Body)
	assert.Empty(t, s.Messages(10))
}

func TestSession_ReconnectRejoinsAndReportsGap(t *testing.T) {
	rooms := &fakeRooms{}
	s := NewSession(me, rooms)
	ticket, err := s.Open(10)
	require.NoError(t, err)
	require.NoError(t, s.OpenProject(3))
	s.DeliverHistory(ticket, []imtypes.MessageView{
		{ID: 1, ConversationID: 10, SenderID: other, Timestamp: 1, Sequence: 1},
		{ID: 2, ConversationID: 10, SenderID: other, Timestamp: 2, Sequence: 2},
	})

	rooms.actions = nil
	fills, err := s.Reconnected()
	require.NoError(t, err)
	assert.Equal(t, []string{"join conversation:10", "join project:3"}, rooms.actions)
	assert.Equal(t, []GapFill{{ConversationID: 10, AfterSequence: 2}}, fills)
}

func TestSession_ConversationEvents(t *testing.T) {
	s := NewSession(me, &fakeRooms{})
	s.DeliverConversations([]imtypes.ConversationView{{ID: 10, Participants: []uint{me, other}}})

	refetch, err := s.HandleEnvelope(envelope(t, imtypes.UserRoom(me), imtypes.EventConversationCreated,
		imtypes.ConversationCreatedPayload{Conversation: imtypes.ConversationView{ID: 11, CreatedAt: 5}}))
	require.NoError(t, err)
	assert.False(t, refetch)

	refetch, err = s.HandleEnvelope(envelope(t, imtypes.UserRoom(me), imtypes.EventConversationUpdated,
		imtypes.ConversationUpdatedPayload{ConversationID: 10, LastMessage: imtypes.LastEventView{Timestamp: 10, Sequence: 1, SenderID: other}}))
	require.NoError(t, err)
	assert.False(t, refetch)

	refetch, err = s.HandleEnvelope(envelope(t, imtypes.UserRoom(me), imtypes.EventConversationUpdated,
		imtypes.ConversationUpdatedPayload{ConversationID: 77}))
	require.NoError(t, err)
	assert.True(t, refetch)

	list := s.Conversations()
	require.Len(t, list, 2)
	assert.Equal(t, uint(11), list[0].ID)
	assert.Equal(t, 1, list[1].Unread)
}

func TestSession_Discussions(t *testing.T) {
	s := NewSession(me, &fakeRooms{})
	require.NoError(t, s.OpenProject(3))

	root := imtypes.MessageView{ID: 1, ConversationID: 30, SenderID: other, Body: "crane schedule?", Timestamp: 10, Sequence: 1}
	_, err := s.HandleEnvelope(envelope(t, imtypes.ProjectRoom(3), imtypes.EventDiscussionPosted, imtypes.DiscussionPostedPayload{ProjectID: 3, Message: root}))
	require.NoError(t, err)

	reply := imtypes.MessageView{ID: 2, ConversationID: 30, SenderID: me, Body: "monday", Timestamp: 11, Sequence: 2}
	for i := 0; i < 2; i++ {
		refetch, err := s.HandleEnvelope(envelope(t, imtypes.ProjectRoom(3), imtypes.EventDiscussionReplied, imtypes.DiscussionRepliedPayload{ProjectID: 3, MsgID: 1, Reply: reply}))
		require.NoError(t, err)
		assert.False(t, refetch)
	}

	refetch, err := s.HandleEnvelope(envelope(t, imtypes.ProjectRoom(3), imtypes.EventDiscussionReplied, imtypes.DiscussionRepliedPayload{ProjectID: 3, MsgID: 50, Reply: reply}))
	require.NoError(t, err)
	assert.True(t, refetch)

	threads := s.Threads(3)
	require.Len(t, threads, 1)
	assert.Len(t, threads[0].Replies, 1)
}

func TestSession_DiscussionReplyFailsBackToDraft(t *testing.T) {
	s := NewSession(me, &fakeRooms{})
	_, _, err := s.PostDiscussion(0, "x", nil, 1)
	require.Error(t, err, "no project open")

	require.NoError(t, s.OpenProject(3))
	require.True(t, s.DeliverThreads(3, []imtypes.ThreadView{{
		Root: imtypes.MessageView{ID: 1, ConversationID: 30, SenderID: other, Body: "crane schedule?", Timestamp: 10, Sequence: 1},
	}}))

	projectID, p, err := s.PostDiscussion(1, "tuesday", nil, 20)
	require.NoError(t, err)
	assert.Equal(t, uint(3), projectID)
	threads := s.Threads(3)
	require.Len(t, threads[0].Replies, 1)
	assert.True(t, threads[0].Replies[0].Pending)

	draft, ok := s.DiscussionFailed(3, p.TempID)
	require.True(t, ok)
	assert.Equal(t, "tuesday", draft.Body)
	assert.Empty(t, s.Threads(3)[0].Replies)

	_, _, err = s.PostDiscussion(99, "orphan", nil, 21)
	assert.Error(t, err)
}
