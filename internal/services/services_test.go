package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitechat/internal/dispatch"
	"sitechat/internal/imtypes"
	"sitechat/internal/sequence"
	"sitechat/internal/storage"
	"sitechat/internal/storage/storagetest"
	"sitechat/pkg/logger"
)

const testMaxFiles = 3

type fixture struct {
	db    *gorm.DB
	users []uint
	rec   *dispatch.Recorder
	clock *fakeClock

	convRepo    storage.ConversationRepository
	msgRepo     storage.MessageRepository
	projectRepo storage.ProjectRepository

	notifications NotificationService
	conversations ConversationService
	groups        GroupService
	messages      MessageService
	seen          SeenService
	discussions   DiscussionService
	authorizer    *RoomAuthorizer
}

// fakeClock 每次调用前进 1ms, 可以手动设置回拨。
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms - 1
}

func newFixture(t *testing.T, users int) *fixture {
	t.Helper()
	db := storagetest.NewDB(t)
	log := logger.NewNop()
	f := &fixture{
		db:          db,
		users:       storagetest.SeedUsers(t, db, users),
		rec:         &dispatch.Recorder{},
		clock:       &fakeClock{now: 1_700_000_000_000},
		convRepo:    storage.NewGormConversationRepository(db),
		msgRepo:     storage.NewGormMessageRepository(db),
		projectRepo: storage.NewGormProjectRepository(db),
	}
	authority := sequence.NewMemoryAuthority(sequence.WithClock(f.clock.Now))
	userRepo := storage.NewGormUserRepository(db)

	f.notifications = NewNotificationService(storage.NewGormNotificationRepository(db), f.rec, log)
	f.conversations = NewConversationService(f.convRepo, userRepo, f.projectRepo, f.rec, log)
	f.groups = NewGroupService(f.convRepo, userRepo, f.notifications, f.rec, log)
	f.messages = NewMessageService(f.msgRepo, f.convRepo, f.projectRepo, authority, f.rec, testMaxFiles, log)
	f.seen = NewSeenService(f.msgRepo, f.convRepo, f.projectRepo, f.rec, log)
	f.discussions = NewDiscussionService(f.msgRepo, f.convRepo, f.projectRepo, authority, f.notifications, f.rec, testMaxFiles, log)
	f.authorizer = NewRoomAuthorizer(f.convRepo, f.projectRepo)
	return f
}

func (f *fixture) direct(t *testing.T, a, b uint) uint {
	t.Helper()
	conv, _, err := f.conversations.GetOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv.ID
}

func (f *fixture) group(t *testing.T, creator uint, members ...uint) uint {
	t.Helper()
	conv, err := f.groups.Create(context.Background(), creator, "site crew", members)
	require.NoError(t, err)
	return conv.ID
}

func (f *fixture) send(t *testing.T, conversationID, sender uint, body string) imtypes.MessageView {
	t.Helper()
	msg, err := f.messages.Send(context.Background(), conversationID, Draft{SenderID: sender, Body: body})
	require.NoError(t, err)
	return *msg
}

func (f *fixture) addProjectMembers(t *testing.T, projectID uint, users ...uint) {
	t.Helper()
	for _, uid := range users {
		require.NoError(t, f.projectRepo.AddMember(context.Background(), projectID, uid))
	}
}

// rooms 返回某个事件被发布到的房间, 按发布顺序。
func rooms(list []dispatch.Recorded) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.Room)
	}
	return out
}
