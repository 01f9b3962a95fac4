package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/imtypes"
	"sitechat/internal/models"
)

func TestNotifications_NotifyListMarkRead(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]

	view, err := f.notifications.Notify(ctx, a, models.NotificationMention, map[string]uint{"messageId": 7})
	require.NoError(t, err)
	assert.False(t, view.Read)

	events := f.rec.Filter(imtypes.EventNotificationCreated)
	require.Len(t, events, 1)
	assert.Equal(t, imtypes.UserRoom(a), events[0].Room)

	list, err := f.notifications.List(ctx, a, true, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"messageId":7}`, string(list[0].Payload.(json.RawMessage)))

	assert.ErrorIs(t, f.notifications.MarkRead(ctx, b, view.ID), ErrNotFound)
	require.NoError(t, f.notifications.MarkRead(ctx, a, view.ID))

	list, err = f.notifications.List(ctx, a, true, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = f.notifications.List(ctx, a, false, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNotifications_PurgeRead(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	svc := f.notifications.(*notificationService)

	read, err := svc.Notify(ctx, f.users[0], models.NotificationReply, nil)
	require.NoError(t, err)
	_, err = svc.Notify(ctx, f.users[0], models.NotificationReply, nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	require.NoError(t, svc.MarkRead(ctx, f.users[0], read.ID))
	svc.now = time.Now

	_, err = svc.PurgeRead(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := svc.PurgeRead(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := svc.List(ctx, f.users[0], false, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
