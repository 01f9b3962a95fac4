package imtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoom(t *testing.T) {
	kind, id, err := ParseRoom(ConversationRoom(42))
	require.NoError(t, err)
	assert.Equal(t, RoomConversation, kind)
	assert.Equal(t, uint(42), id)

	kind, id, err = ParseRoom("user:7")
	require.NoError(t, err)
	assert.Equal(t, RoomUser, kind)
	assert.Equal(t, uint(7), id)
}

func TestParseRoom_Invalid(t *testing.T) {
	for _, room := range []string{"", "conversation", "conversation:", "conversation:abc", "lobby:1", "project:0", "user:-1"} {
		_, _, err := ParseRoom(room)
		assert.Error(t, err, room)
	}
}

func TestNewEnvelope(t *testing.T) {
	data, err := NewEnvelope(ProjectRoom(3), EventDiscussionReplied, DiscussionRepliedPayload{ProjectID: 3, MsgID: 10})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "project:3", env.Room)
	assert.Equal(t, EventDiscussionReplied, env.Event)

	var p DiscussionRepliedPayload
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, uint(10), p.MsgID)
}
