package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/imtypes"
	"sitechat/internal/models"
)

const testProject = uint(42)

func TestDiscussion_PostRequiresProjectMember(t *testing.T) {
	f := newFixture(t, 2)
	f.addProjectMembers(t, testProject, f.users[0])

	_, err := f.discussions.Post(context.Background(), testProject, Draft{SenderID: f.users[1], Body: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.discussions.ListThreads(context.Background(), f.users[1], testProject)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDiscussion_PostAndReplyThreads(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a, b, c := f.users[0], f.users[1], f.users[2]
	f.addProjectMembers(t, testProject, a, b, c)

	threads, err := f.discussions.ListThreads(ctx, a, testProject)
	require.NoError(t, err)
	assert.Empty(t, threads)

	root, err := f.discussions.Post(ctx, testProject, Draft{SenderID: a, Body: "Rebar delivery moved"})
	require.NoError(t, err)
	other, err := f.discussions.Post(ctx, testProject, Draft{SenderID: b, Body: "Crane inspection"})
	require.NoError(t, err)
	assert.Equal(t, root.ConversationID, other.ConversationID, "one discussion conversation per project")
	assert.Equal(t, int64(2), other.Sequence)

	posted := f.rec.Filter(imtypes.EventDiscussionPosted)
	require.Len(t, posted, 2)
	assert.Equal(t, imtypes.ProjectRoom(testProject), posted[0].Room)

	reply, err := f.discussions.Reply(ctx, testProject, root.ID, Draft{SenderID: b, Body: "noted"})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, root.ID, *reply.ParentID)

	// 回复的回复挂到根帖
	nested, err := f.discussions.Reply(ctx, testProject, reply.ID, Draft{SenderID: c, Body: "me too"})
	require.NoError(t, err)
	assert.Equal(t, root.ID, *nested.ParentID)

	replied := f.rec.Filter(imtypes.EventDiscussionReplied)
	require.Len(t, replied, 2)
	assert.Equal(t, root.ID, replied[1].Payload.(imtypes.DiscussionRepliedPayload).MsgID)

	// 根帖作者收到两条回复通知
	var replyNotes int
	for _, e := range f.rec.Filter(imtypes.EventNotificationCreated) {
		n := e.Payload.(imtypes.NotificationCreatedPayload).Notification
		if n.Type == string(models.NotificationReply) {
			assert.Equal(t, imtypes.UserRoom(a), e.Room)
			replyNotes++
		}
	}
	assert.Equal(t, 2, replyNotes)

	threads, err = f.discussions.ListThreads(ctx, c, testProject)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, root.ID, threads[0].Root.ID)
	assert.Equal(t, []string{"noted", "me too"}, []string{threads[0].Replies[0].Body, threads[0].Replies[1].Body})
	assert.Empty(t, threads[1].Replies)
}

func TestDiscussion_ReplyToOwnPostDoesNotNotify(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	a := f.users[0]
	f.addProjectMembers(t, testProject, a)

	root, err := f.discussions.Post(ctx, testProject, Draft{SenderID: a, Body: "todo"})
	require.NoError(t, err)
	_, err = f.discussions.Reply(ctx, testProject, root.ID, Draft{SenderID: a, Body: "done"})
	require.NoError(t, err)
	assert.Empty(t, f.rec.Filter(imtypes.EventNotificationCreated))

	_, err = f.discussions.Reply(ctx, testProject, 9999, Draft{SenderID: a, Body: "?"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscussion_MentionsOnlyProjectMembers(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a, b, outsider := f.users[0], f.users[1], f.users[2]
	f.addProjectMembers(t, testProject, a, b)

	msg, err := f.discussions.Post(ctx, testProject, Draft{SenderID: a, Body: "@b check this", Mentions: []uint{b, outsider, a, b}})
	require.NoError(t, err)
	assert.Equal(t, []uint{b}, msg.Mentions)

	notes := f.rec.Filter(imtypes.EventNotificationCreated)
	require.Len(t, notes, 1)
	assert.Equal(t, imtypes.UserRoom(b), notes[0].Room)
	assert.Equal(t, string(models.NotificationMention), notes[0].Payload.(imtypes.NotificationCreatedPayload).Notification.Type)
}

func TestDiscussion_ChatSendRejectedForProjectConversation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.addProjectMembers(t, testProject, f.users[0])
	root, err := f.discussions.Post(ctx, testProject, Draft{SenderID: f.users[0], Body: "x"})
	require.NoError(t, err)

	_, err = f.messages.Send(ctx, root.ConversationID, Draft{SenderID: f.users[0], Body: "y"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDiscussion_AttachmentOnlyReplySurvivesHistory(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]
	f.addProjectMembers(t, testProject, a, b)

	root, err := f.discussions.Post(ctx, testProject, Draft{SenderID: a, Body: "Slab pour photos?"})
	require.NoError(t, err)

	files := []imtypes.FileInfo{
		{Path: "2026/03/a1.jpg", Size: 10, MimeType: "image/jpeg", FileName: "east wall.jpg"},
		{Path: "2026/03/b2.pdf", Size: 20, MimeType: "application/pdf", FileName: "pour log.pdf"},
	}
	reply, err := f.discussions.Reply(ctx, testProject, root.ID, Draft{SenderID: b, Files: files})
	require.NoError(t, err)

	history, err := f.messages.History(ctx, a, root.ConversationID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	got := history[1]
	assert.Equal(t, reply.ID, got.ID)
	assert.Empty(t, got.Body)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "east wall.jpg", got.Attachments[0].Name)
	assert.Equal(t, "pour log.pdf", got.Attachments[1].Name)
}
