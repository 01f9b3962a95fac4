package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitechat/internal/models"
	"sitechat/internal/storage"
	"sitechat/internal/storage/storagetest"
)

func seedConversation(t *testing.T, repo storage.ConversationRepository, users []uint) *models.Conversation {
	t.Helper()
	c := &models.Conversation{Kind: models.GroupConversation, Name: "g", CreatorID: users[0]}
	require.NoError(t, repo.CreateWithParticipants(context.Background(), c, users))
	return c
}

func TestMessageRepository_HistoryOrderAndAttachments(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 2)
	c := seedConversation(t, storage.NewGormConversationRepository(db), users)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	// inserted out of order on purpose
	for _, m := range []*models.Message{
		{ConversationID: c.ID, SenderID: users[0], Body: "third", SentAt: 200, Sequence: 3},
		{ConversationID: c.ID, SenderID: users[1], Body: "first", SentAt: 100, Sequence: 1},
		{ConversationID: c.ID, SenderID: users[0], SentAt: 100, Sequence: 2, Attachments: []models.MessageAttachment{
			{Name: "plan.pdf", Mime: "application/pdf", StoragePath: "a.pdf"},
			{Name: "photo.jpg", Mime: "image/jpeg", StoragePath: "b.jpg"},
		}},
	} {
		require.NoError(t, repo.Create(ctx, m, m.Body))
	}

	msgs, err := repo.ListByConversation(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, int64(2), msgs[1].Sequence)
	assert.Equal(t, "third", msgs[2].Body)

	require.Len(t, msgs[1].Attachments, 2)
	assert.Equal(t, "plan.pdf", msgs[1].Attachments[0].Name)
	assert.Equal(t, "photo.jpg", msgs[1].Attachments[1].Name)

	after, err := repo.ListByConversation(ctx, c.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "third", after[0].Body)

	recent, err := repo.ListRecent(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(2), recent[0].Sequence)
	assert.Equal(t, int64(3), recent[1].Sequence)

	seq, ts, err := repo.MaxSequence(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
	assert.Equal(t, int64(200), ts)

	convID, err := repo.FindAttachmentConversation(ctx, "b.jpg")
	require.NoError(t, err)
	assert.Equal(t, c.ID, convID)
}

func TestMessageRepository_DuplicateSequenceRejected(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 1)
	c := seedConversation(t, storage.NewGormConversationRepository(db), users)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Message{ConversationID: c.ID, SenderID: users[0], Body: "a", SentAt: 1, Sequence: 1}, "a"))
	err := repo.Create(ctx, &models.Message{ConversationID: c.ID, SenderID: users[0], Body: "b", SentAt: 1, Sequence: 1}, "b")
	assert.True(t, storage.IsUniqueViolation(err))

	// 失败的写入不改摘要
	got, err := storage.NewGormConversationRepository(db).GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.LastEventPreview)
}

func TestMessageRepository_CreateAdvancesSummaryNeverBack(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 2)
	convRepo := storage.NewGormConversationRepository(db)
	c := seedConversation(t, convRepo, users)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Message{ConversationID: c.ID, SenderID: users[0], Body: "b", SentAt: 100, Sequence: 7}, "b"))
	// older event committed later
	require.NoError(t, repo.Create(ctx, &models.Message{ConversationID: c.ID, SenderID: users[1], Body: "a", SentAt: 100, Sequence: 5}, "a"))

	got, err := convRepo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.LastEventPreview)
	assert.Equal(t, int64(7), got.LastEventSequence)

	require.NoError(t, repo.Create(ctx, &models.Message{ConversationID: c.ID, SenderID: users[1], Body: "c", SentAt: 101, Sequence: 8}, "c"))
	got, err = convRepo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", got.LastEventPreview)
	assert.Equal(t, users[1], got.LastEventSenderID)
}

func TestMessageRepository_CreateRollsBackWhenSummaryFails(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 1)
	c := seedConversation(t, storage.NewGormConversationRepository(db), users)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_summary", func(tx *gorm.DB) {
		if tx.Statement.Table == "conversations" {
			_ = tx.AddError(errors.New("db hiccup"))
		}
	}))

	err := repo.Create(ctx, &models.Message{ConversationID: c.ID, SenderID: users[0], Body: "lost?", SentAt: 1, Sequence: 1}, "lost?")
	require.ErrorContains(t, err, "db hiccup")

	msgs, err := repo.ListByConversation(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessageRepository_ReactionAndSeenUpsert(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 2)
	c := seedConversation(t, storage.NewGormConversationRepository(db), users)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	m := &models.Message{ConversationID: c.ID, SenderID: users[0], Body: "hi", SentAt: 1, Sequence: 1}
	require.NoError(t, repo.Create(ctx, m, m.Body))

	require.NoError(t, repo.UpsertReaction(ctx, &models.MessageReaction{MessageID: m.ID, UserID: users[1], Emoji: "👍"}))
	require.NoError(t, repo.UpsertReaction(ctx, &models.MessageReaction{MessageID: m.ID, UserID: users[1], Emoji: "❤️"}))
	reactions, err := repo.ListReactions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "❤️", reactions[0].Emoji)

	require.NoError(t, repo.DeleteReaction(ctx, m.ID, users[1]))
	r, err := repo.GetReaction(ctx, m.ID, users[1])
	require.NoError(t, err)
	assert.Nil(t, r)

	require.NoError(t, repo.UpsertSeen(ctx, &models.MessageSeen{MessageID: m.ID, UserID: users[1], ConversationID: c.ID, SeenAt: 10}))
	require.NoError(t, repo.UpsertSeen(ctx, &models.MessageSeen{MessageID: m.ID, UserID: users[1], ConversationID: c.ID, SeenAt: 20}))

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Seen, 1)
	assert.Equal(t, int64(20), got.Seen[0].SeenAt)
}
