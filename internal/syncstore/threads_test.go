package syncstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/imtypes"
)

const (
	project  uint = 3
	projConv uint = 30
)

func post(id uint, sender uint, body string, ts, seq int64) imtypes.MessageView {
	return imtypes.MessageView{ID: id, ConversationID: projConv, SenderID: sender, Body: body, Timestamp: ts, Sequence: seq}
}

func TestThreads_OptimisticPostReconciles(t *testing.T) {
	th := NewThreads(project, me)
	p := th.Post(Placeholder{Body: "slab pour friday", LocalTime: 5})

	list := th.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Root.Pending)

	// 讨论区的会话在首帖时才创建, Store 由第一条服务端消息确定会话
	m := post(1, me, "slab pour friday", 100, 1)
	m.ClientID = p.ClientID
	assert.Equal(t, p.TempID, th.Succeeded(m))
	assert.True(t, th.ApplyPosted(imtypes.DiscussionPostedPayload{ProjectID: project, Message: m}))

	list = th.List()
	require.Len(t, list, 1)
	assert.False(t, list[0].Root.Pending)
	assert.Equal(t, uint(1), list[0].Root.ID)

	assert.False(t, th.ApplyPosted(imtypes.DiscussionPostedPayload{ProjectID: 8, Message: post(9, other, "x", 1, 1)}))
}

func TestThreads_ReplyPlaceholderOnlyMatchesItsThread(t *testing.T) {
	th := NewThreads(project, me)
	th.Load([]imtypes.ThreadView{
		{Root: post(1, other, "crane?", 10, 1)},
		{Root: post(2, other, "rebar?", 11, 2)},
	})

	reply, err := th.Reply(2, Placeholder{Body: "ok"})
	require.NoError(t, err)
	root := th.Post(Placeholder{Body: "ok"})

	// 没有 clientId 的回声按所属帖子对账, 不会消耗新帖的占位
	echo := post(3, me, "ok", 12, 3)
	assert.True(t, th.ApplyReplied(imtypes.DiscussionRepliedPayload{ProjectID: project, MsgID: 2, Reply: echo}))

	list := th.List()
	require.Len(t, list, 3)
	require.Len(t, list[1].Replies, 1)
	assert.False(t, list[1].Replies[0].Pending)
	assert.Equal(t, uint(3), list[1].Replies[0].ID)
	assert.True(t, list[2].Root.Pending)
	assert.Equal(t, root.TempID, list[2].Root.TempID)

	_, ok := th.Failed(reply.TempID)
	assert.False(t, ok, "reply placeholder was already confirmed")
	draft, ok := th.Failed(root.TempID)
	require.True(t, ok)
	assert.Equal(t, "ok", draft.Body)
}

func TestThreads_UnknownRoot(t *testing.T) {
	th := NewThreads(project, me)
	_, err := th.Reply(7, Placeholder{Body: "?"})
	assert.Error(t, err)
	assert.False(t, th.ApplyReplied(imtypes.DiscussionRepliedPayload{ProjectID: project, MsgID: 7, Reply: post(8, other, "a", 1, 1)}))

	// 回复不能被当成帖子
	th.Load([]imtypes.ThreadView{{Root: post(1, other, "root", 1, 1), Replies: []imtypes.MessageView{post(2, other, "r", 2, 2)}}})
	_, err = th.Reply(2, Placeholder{Body: "nested"})
	assert.Error(t, err)

	// 重复投递不产生重复回复
	th.ApplyReplied(imtypes.DiscussionRepliedPayload{ProjectID: project, MsgID: 1, Reply: post(2, other, "r", 2, 2)})
	list := th.List()
	require.Len(t, list, 1)
	assert.Len(t, list[0].Replies, 1)
}
