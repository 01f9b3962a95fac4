package syncstore

import (
	"fmt"
	"sync"

	"sitechat/internal/imtypes"
)

// RoomSender 是会话层对 websocket 连接的需求: 发送 join/leave 指令。
type RoomSender interface {
	Join(room string) error
	Leave(room string) error
}

// GapFill 描述重连后需要补拉的历史。
type GapFill struct {
	ConversationID uint
	AfterSequence  int64
}

// Session 把当前选择、各会话的 Store、会话列表和房间焦点串在一起。
// 所有方法都在同一把锁下执行, 任何一次合并都不会被观察到一半。
type Session struct {
	mu     sync.Mutex
	selfID uint
	rooms  RoomSender

	selection Selection
	stores    map[uint]*Store
	threads   map[uint]*Threads
	list      *ChatList

	activeConversation uint
	activeProject      uint
}

func NewSession(selfID uint, rooms RoomSender) *Session {
	return &Session{
		selfID:  selfID,
		rooms:   rooms,
		stores:  make(map[uint]*Store),
		threads: make(map[uint]*Threads),
		list:    NewChatList(selfID),
	}
}

func (s *Session) storeLocked(conversationID uint) *Store {
	st, ok := s.stores[conversationID]
	if !ok {
		st = NewStore(conversationID, s.selfID)
		s.stores[conversationID] = st
	}
	return st
}

// Open 打开一个会话: 离开上一个会话房间, 加入新的, 并返回历史拉取用的 ticket。
func (s *Session) Open(conversationID uint) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeConversation != 0 && s.activeConversation != conversationID {
		if err := s.rooms.Leave(imtypes.ConversationRoom(s.activeConversation)); err != nil {
			return Ticket{}, fmt.Errorf("离开会话房间失败: %w", err)
		}
	}
	if s.activeConversation != conversationID {
		if err := s.rooms.Join(imtypes.ConversationRoom(conversationID)); err != nil {
			return Ticket{}, fmt.Errorf("加入会话房间失败: %w", err)
		}
	}
	s.activeConversation = conversationID
	s.storeLocked(conversationID)
	s.list.MarkRead(conversationID)
	return s.selection.Select(conversationID), nil
}

// OpenProject 打开项目讨论区, 规则与 Open 相同。
func (s *Session) OpenProject(projectID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeProject == projectID {
		return nil
	}
	if s.activeProject != 0 {
		if err := s.rooms.Leave(imtypes.ProjectRoom(s.activeProject)); err != nil {
			return fmt.Errorf("离开项目房间失败: %w", err)
		}
	}
	if err := s.rooms.Join(imtypes.ProjectRoom(projectID)); err != nil {
		return fmt.Errorf("加入项目房间失败: %w", err)
	}
	s.activeProject = projectID
	if _, ok := s.threads[projectID]; !ok {
		s.threads[projectID] = NewThreads(projectID, s.selfID)
	}
	return nil
}

// DeliverHistory 处理历史拉取的结果。ticket 已过期 (用户切到了别的会话) 时丢弃并返回 false。
func (s *Session) DeliverHistory(t Ticket, history []imtypes.MessageView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selection.Accept(t) {
		return false
	}
	s.storeLocked(t.ConversationID).Load(history)
	return true
}

// DeliverThreads 处理讨论区拉取的结果。
func (s *Session) DeliverThreads(projectID uint, threads []imtypes.ThreadView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if projectID != s.activeProject {
		return false
	}
	s.threads[projectID].Load(threads)
	return true
}

// DeliverConversations 用拉取到的会话列表刷新本地列表。
func (s *Session) DeliverConversations(views []imtypes.ConversationView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list.Reset(views)
}

// Send 在当前会话中追加一个乐观占位。
func (s *Session) Send(body string, attachments []imtypes.AttachmentView, localTime int64) (uint, Placeholder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConversation == 0 {
		return 0, Placeholder{}, fmt.Errorf("没有打开的会话")
	}
	if body == "" && len(attachments) == 0 {
		return 0, Placeholder{}, fmt.Errorf("消息内容和附件不能同时为空")
	}
	p := s.storeLocked(s.activeConversation).MergeOptimistic(Placeholder{
		Body:        body,
		Attachments: attachments,
		LocalTime:   localTime,
	})
	return s.activeConversation, p, nil
}

// PostDiscussion 在当前项目讨论区追加一个乐观占位; rootID 非零时是回复。
func (s *Session) PostDiscussion(rootID uint, body string, attachments []imtypes.AttachmentView, localTime int64) (uint, Placeholder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeProject == 0 {
		return 0, Placeholder{}, fmt.Errorf("没有打开的项目讨论区")
	}
	if body == "" && len(attachments) == 0 {
		return 0, Placeholder{}, fmt.Errorf("消息内容和附件不能同时为空")
	}
	th := s.threads[s.activeProject]
	p := Placeholder{Body: body, Attachments: attachments, LocalTime: localTime}
	if rootID == 0 {
		return s.activeProject, th.Post(p), nil
	}
	p, err := th.Reply(rootID, p)
	if err != nil {
		return 0, Placeholder{}, err
	}
	return s.activeProject, p, nil
}

// DiscussionSucceeded 处理发帖或回复的 REST 响应。
func (s *Session) DiscussionSucceeded(projectID uint, m imtypes.MessageView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if th, ok := s.threads[projectID]; ok {
		th.Succeeded(m)
	}
}

// DiscussionFailed 移除讨论区的占位, 返回需要放回输入框的内容。
func (s *Session) DiscussionFailed(projectID uint, tempID string) (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[projectID]
	if !ok {
		return Draft{}, false
	}
	return th.Failed(tempID)
}

// SendSucceeded 处理 REST 发送的响应, 与随后到达的 messageCreated 走同一条合并路径。
func (s *Session) SendSucceeded(m imtypes.MessageView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(m.ConversationID).Apply(m)
}

// SendFailed 移除占位, 返回需要放回输入框的内容。
func (s *Session) SendFailed(conversationID uint, tempID string) (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[conversationID]
	if !ok {
		return Draft{}, false
	}
	return st.FailSend(tempID)
}

// HandleEnvelope 处理一个服务端推送的事件。
// 返回 true 表示本地状态无法增量更新 (例如未知会话), 调用方应重新拉取会话列表。
func (s *Session) HandleEnvelope(env imtypes.Envelope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Event {
	case imtypes.EventMessageCreated:
		var p imtypes.MessageCreatedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		if st, ok := s.stores[p.ConversationID]; ok {
			st.Apply(p.Message)
		}
	case imtypes.EventMessageSeen:
		var p imtypes.MessageSeenPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		if st, ok := s.stores[p.ConversationID]; ok {
			st.ApplySeen(p)
		}
	case imtypes.EventReactionChanged:
		var p imtypes.ReactionChangedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		if st, ok := s.stores[p.ConversationID]; ok {
			st.ApplyReaction(p)
		}
	case imtypes.EventConversationUpdated:
		var p imtypes.ConversationUpdatedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		return !s.list.ApplyUpdate(p, p.ConversationID == s.activeConversation), nil
	case imtypes.EventConversationCreated:
		var p imtypes.ConversationCreatedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		s.list.Upsert(p.Conversation)
	case imtypes.EventMembershipChanged:
		var p imtypes.MembershipChangedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		if _, ok := s.list.Get(p.ConversationID); !ok {
			return true, nil
		}
		s.list.ApplyMembership(p)
		if _, ok := s.list.Get(p.ConversationID); !ok && s.activeConversation == p.ConversationID {
			// 被移出当前会话, 服务端已不再向我们推送这个房间
			s.activeConversation = 0
			s.selection.Select(0)
		}
	case imtypes.EventDiscussionPosted:
		var p imtypes.DiscussionPostedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		if th, ok := s.threads[p.ProjectID]; ok {
			th.ApplyPosted(p)
		}
	case imtypes.EventDiscussionReplied:
		var p imtypes.DiscussionRepliedPayload
		if err := env.DecodePayload(&p); err != nil {
			return false, err
		}
		if th, ok := s.threads[p.ProjectID]; ok && !th.ApplyReplied(p) {
			return true, nil
		}
	}
	return false, nil
}

// Reconnected 在连接恢复后重新进入之前的房间, 并返回需要补拉的历史。
// 服务端不记得断线前的房间, 也不会重放错过的事件。
func (s *Session) Reconnected() ([]GapFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fills []GapFill
	if s.activeConversation != 0 {
		if err := s.rooms.Join(imtypes.ConversationRoom(s.activeConversation)); err != nil {
			return nil, err
		}
		fills = append(fills, GapFill{
			ConversationID: s.activeConversation,
			AfterSequence:  s.storeLocked(s.activeConversation).LastSequence(),
		})
	}
	if s.activeProject != 0 {
		if err := s.rooms.Join(imtypes.ProjectRoom(s.activeProject)); err != nil {
			return nil, err
		}
	}
	return fills, nil
}

// Messages 返回某会话的展示列表。
func (s *Session) Messages(conversationID uint) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[conversationID]
	if !ok {
		return nil
	}
	return st.Messages()
}

// Conversations 返回排序后的会话列表。
func (s *Session) Conversations() []ChatItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Ordered()
}

// Threads 返回项目讨论区。
func (s *Session) Threads(projectID uint) []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[projectID]
	if !ok {
		return nil
	}
	return th.List()
}

// ActiveConversation 返回当前打开的会话。
func (s *Session) ActiveConversation() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConversation
}
