package syncstore

import (
	"sitechat/internal/imtypes"
	"sitechat/internal/ordering"
)

// ChatItem 是会话列表中的一行。
type ChatItem struct {
	imtypes.ConversationView
	// Unread 是打开会话之后收到的别人的消息数
	Unread int
}

func (c ChatItem) LastEventKey() (ordering.Key, bool) {
	if c.LastEvent == nil {
		return ordering.Key{}, false
	}
	return ordering.Key{Timestamp: c.LastEvent.Timestamp, Sequence: c.LastEvent.Sequence}, true
}

func (c ChatItem) CreatedAtMillis() int64 { return c.CreatedAt }
func (c ChatItem) EntryID() uint          { return c.ID }

// ChatList 是客户端的会话列表。并发到达的更新按 (timestamp, sequence) 取较新者,
// 与到达顺序无关。
type ChatList struct {
	selfID uint
	items  map[uint]*ChatItem
}

func NewChatList(selfID uint) *ChatList {
	return &ChatList{selfID: selfID, items: make(map[uint]*ChatItem)}
}

// Upsert 加入或刷新一个会话。已有的最后事件更新时保留较新者。
func (l *ChatList) Upsert(v imtypes.ConversationView) {
	item, ok := l.items[v.ID]
	if !ok {
		l.items[v.ID] = &ChatItem{ConversationView: v}
		return
	}
	last := item.LastEvent
	unread := item.Unread
	item.ConversationView = v
	item.Unread = unread
	if last != nil && (v.LastEvent == nil || keyOf(last).Newer(keyOf(v.LastEvent))) {
		item.LastEvent = last
	}
}

// Reset 用一次完整的列表拉取替换本地状态 (重连后), 仍然保留较新的最后事件。
func (l *ChatList) Reset(views []imtypes.ConversationView) {
	old := l.items
	l.items = make(map[uint]*ChatItem, len(views))
	for _, v := range views {
		if prev, ok := old[v.ID]; ok {
			l.items[v.ID] = prev
		}
		l.Upsert(v)
	}
}

// ApplyUpdate 处理 conversationUpdated。会话未知时返回 false, 调用方应重新拉取列表。
func (l *ChatList) ApplyUpdate(p imtypes.ConversationUpdatedPayload, active bool) bool {
	item, ok := l.items[p.ConversationID]
	if !ok {
		return false
	}
	ev := p.LastMessage
	if item.LastEvent != nil && !keyOf(&ev).Newer(keyOf(item.LastEvent)) {
		return true
	}
	item.LastEvent = &ev
	if !active && ev.SenderID != l.selfID {
		item.Unread++
	}
	return true
}

// ApplyMembership 处理 membershipChanged。自己被移除时会话从列表中消失。
func (l *ChatList) ApplyMembership(p imtypes.MembershipChangedPayload) {
	item, ok := l.items[p.ConversationID]
	if !ok {
		return
	}
	stillIn := false
	for _, uid := range p.Users {
		if uid == l.selfID {
			stillIn = true
			break
		}
	}
	if !stillIn {
		delete(l.items, p.ConversationID)
		return
	}
	item.Participants = append([]uint(nil), p.Users...)
	if p.Name != "" {
		item.Name = p.Name
	}
}

// MarkRead 清零未读数。
func (l *ChatList) MarkRead(conversationID uint) {
	if item, ok := l.items[conversationID]; ok {
		item.Unread = 0
	}
}

func (l *ChatList) Get(conversationID uint) (ChatItem, bool) {
	item, ok := l.items[conversationID]
	if !ok {
		return ChatItem{}, false
	}
	return *item, true
}

// Ordered 返回排序后的列表。
func (l *ChatList) Ordered() []ChatItem {
	out := make([]ChatItem, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, *item)
	}
	ordering.SortConversations(out)
	return out
}

func keyOf(ev *imtypes.LastEventView) ordering.Key {
	return ordering.Key{Timestamp: ev.Timestamp, Sequence: ev.Sequence}
}
