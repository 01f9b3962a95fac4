package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/models"
	"sitechat/internal/storage"
	"sitechat/internal/storage/storagetest"
)

func TestConversationRepository_DirectKeyIsUnique(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 2)
	repo := storage.NewGormConversationRepository(db)
	ctx := context.Background()

	key := models.DirectKey(users[0], users[1])
	first := &models.Conversation{Kind: models.DirectConversation, DirectKey: &key}
	require.NoError(t, repo.CreateWithParticipants(ctx, first, users))

	dup := &models.Conversation{Kind: models.DirectConversation, DirectKey: &key}
	err := repo.CreateWithParticipants(ctx, dup, users)
	require.Error(t, err)
	assert.True(t, storage.IsUniqueViolation(err))

	found, err := repo.FindDirectByKey(ctx, models.DirectKey(users[1], users[0]))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.ElementsMatch(t, users, found.ParticipantIDs())

	missing, err := repo.FindDirectByKey(ctx, "98:99")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConversationRepository_Participants(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.SeedUsers(t, db, 4)
	repo := storage.NewGormConversationRepository(db)
	ctx := context.Background()

	c := &models.Conversation{Kind: models.GroupConversation, Name: "crew", CreatorID: users[0]}
	require.NoError(t, repo.CreateWithParticipants(ctx, c, users[:2]))

	added, err := repo.AddParticipants(ctx, c.ID, []uint{users[1], users[2], users[3]})
	require.NoError(t, err)
	assert.Equal(t, []uint{users[2], users[3]}, added)

	require.NoError(t, repo.RemoveParticipant(ctx, c.ID, users[3]))
	assert.Error(t, repo.RemoveParticipant(ctx, c.ID, users[3]))

	ids, err := repo.ParticipantIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, users[:3], ids)

	// removed users can be added back
	added, err = repo.AddParticipants(ctx, c.ID, []uint{users[3]})
	require.NoError(t, err)
	assert.Equal(t, []uint{users[3]}, added)

	ok, err := repo.IsParticipant(ctx, c.ID, users[3])
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := repo.ListForUser(ctx, users[2])
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Participants, 4)
}
