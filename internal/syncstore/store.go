// Package syncstore 是客户端的会话状态: 合并服务端事件与本地乐观发送,
// 保证同一消息只出现一次, 并按服务端的 (timestamp, sequence) 顺序展示。
//
// 所有类型都假定由同一个 goroutine 驱动 (界面事件循环), 或由 Session 串行化。
package syncstore

import (
	"sort"

	"github.com/google/uuid"

	"sitechat/internal/imtypes"
	"sitechat/internal/ordering"
	"sitechat/internal/receipts"
)

const tempIDPrefix = "local-"

// Entry 是一条可展示的消息。Pending 的条目是本地乐观占位, ID 为 0。
type Entry struct {
	imtypes.MessageView
	TempID  string
	Pending bool
}

// Key 在列表中唯一标识条目。
func (e Entry) Key() string {
	if e.Pending {
		return e.TempID
	}
	return "m:" + uintString(e.ID)
}

// Placeholder 是一次尚未确认的发送。
type Placeholder struct {
	TempID      string
	ClientID    string
	Body        string
	Attachments []imtypes.AttachmentView
	// ParentID 非零时是讨论区的回复, 只和同一帖子下的服务端回复对账
	ParentID uint
	// LocalTime 仅用于展示, 不参与排序
	LocalTime int64
}

// Draft 是发送失败后还给输入框的内容。
type Draft struct {
	Body        string
	Attachments []imtypes.AttachmentView
}

// Store 保存一个会话的消息。
type Store struct {
	conversationID uint
	selfID         uint
	// unbound 的 Store 在第一条服务端消息到达时才确定会话 (项目讨论区首帖之前还没有会话)
	unbound bool

	messages map[uint]*imtypes.MessageView
	pending  []Placeholder
}

func NewStore(conversationID, selfID uint) *Store {
	return &Store{
		conversationID: conversationID,
		selfID:         selfID,
		messages:       make(map[uint]*imtypes.MessageView),
	}
}

func newUnboundStore(selfID uint) *Store {
	st := NewStore(0, selfID)
	st.unbound = true
	return st
}

func (s *Store) ConversationID() uint { return s.conversationID }

// Apply 合并一条服务端消息: 相同 id 的后到事件替换先到的, 未知 id 追加。
// 自己发送的消息会同时清除对应的乐观占位。返回被清除的占位 TempID。
func (s *Store) Apply(m imtypes.MessageView) (removedTempID string) {
	if s.unbound && s.conversationID == 0 && m.ConversationID != 0 {
		s.conversationID = m.ConversationID
	}
	if m.ConversationID != s.conversationID || m.ID == 0 {
		return ""
	}
	prev, known := s.messages[m.ID]
	if known {
		// 旧的 messageCreated 重放不应抹掉已经收到的回应与已读
		if m.Reactions == nil {
			m.Reactions = prev.Reactions
		}
		m.SeenBy = mergeSeen(prev.SeenBy, m.SeenBy)
	}
	cp := m
	s.messages[m.ID] = &cp
	if known {
		// 已经对账过, 重复投递不能再消耗另一个占位
		return ""
	}
	return s.Reconcile(m)
}

// Load 合并一次历史拉取的结果。
func (s *Store) Load(history []imtypes.MessageView) {
	for _, m := range history {
		s.Apply(m)
	}
}

// MergeOptimistic 追加一个本地占位, 缺少的 TempID/ClientID 会被生成。
func (s *Store) MergeOptimistic(p Placeholder) Placeholder {
	if p.TempID == "" {
		p.TempID = tempIDPrefix + uuid.NewString()
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	s.pending = append(s.pending, p)
	return p
}

// Reconcile 移除与服务端消息对应的自己的占位。
// 消息带 clientId 时只按 clientId 匹配: 对不上说明是另一台设备或另一次发送, 不能消耗本地占位。
// 不带 clientId 时在同一父帖的占位中依次尝试正文与附件名相同的最早占位, 以及唯一的那个占位。
func (s *Store) Reconcile(m imtypes.MessageView) string {
	if m.SenderID != s.selfID || len(s.pending) == 0 {
		return ""
	}
	idx := -1
	if m.ClientID != "" {
		for i, p := range s.pending {
			if p.ClientID == m.ClientID {
				idx = i
				break
			}
		}
	} else {
		parent := parentOf(m)
		candidates := 0
		for i, p := range s.pending {
			if p.ParentID != parent {
				continue
			}
			candidates++
			if idx < 0 && p.Body == m.Body && sameAttachmentNames(p.Attachments, m.Attachments) {
				idx = i
			}
		}
		if idx < 0 && candidates == 1 {
			for i, p := range s.pending {
				if p.ParentID == parent {
					idx = i
				}
			}
		}
	}
	if idx < 0 {
		return ""
	}
	tempID := s.pending[idx].TempID
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	return tempID
}

// FailSend 移除占位并返回原始内容。占位不存在 (已被服务端消息确认) 时 ok=false。
func (s *Store) FailSend(tempID string) (Draft, bool) {
	for i, p := range s.pending {
		if p.TempID == tempID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return Draft{Body: p.Body, Attachments: p.Attachments}, true
		}
	}
	return Draft{}, false
}

// ApplyReaction 用服务端的完整回应集合替换本地的。未知消息忽略。
func (s *Store) ApplyReaction(p imtypes.ReactionChangedPayload) bool {
	m, ok := s.messages[p.MessageID]
	if !ok {
		return false
	}
	m.Reactions = append([]imtypes.ReactionView(nil), p.Reactions...)
	return true
}

// ApplySeen 每个用户只保留一条已读记录, 时间只前进。
func (s *Store) ApplySeen(p imtypes.MessageSeenPayload) bool {
	m, ok := s.messages[p.MessageID]
	if !ok {
		return false
	}
	m.SeenBy = mergeSeen(m.SeenBy, []imtypes.SeenView{{UserID: p.UserID, Timestamp: p.Timestamp}})
	return true
}

// Messages 返回展示顺序: 已确认的按 (timestamp, sequence) 升序, 占位排在最后。
func (s *Store) Messages() []Entry {
	out := make([]Entry, 0, len(s.messages)+len(s.pending))
	for _, m := range s.messages {
		out = append(out, Entry{MessageView: *m})
	}
	sort.Slice(out, func(i, j int) bool {
		ki := ordering.Key{Timestamp: out[i].Timestamp, Sequence: out[i].Sequence}
		kj := ordering.Key{Timestamp: out[j].Timestamp, Sequence: out[j].Sequence}
		if c := ki.Compare(kj); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	for _, p := range s.pending {
		out = append(out, Entry{
			MessageView: imtypes.MessageView{
				ClientID:       p.ClientID,
				ConversationID: s.conversationID,
				SenderID:       s.selfID,
				Body:           p.Body,
				Attachments:    p.Attachments,
				Timestamp:      p.LocalTime,
				ParentID:       parentPtr(p.ParentID),
			},
			TempID:  p.TempID,
			Pending: true,
		})
	}
	return uniqueEntries(out)
}

// Pending 返回尚未确认的占位数量。
func (s *Store) Pending() int { return len(s.pending) }

// LastSequence 返回已确认消息的最大 sequence, 重连后用它补拉缺口。
func (s *Store) LastSequence() int64 {
	var max int64
	for _, m := range s.messages {
		if m.Sequence > max {
			max = m.Sequence
		}
	}
	return max
}

// SeenAnnotation 计算当前应显示的已读标记。
func (s *Store) SeenAnnotation(mode receipts.Mode, subset []uint) *imtypes.SeenAnnotation {
	msgs := make([]receipts.Message, 0, len(s.messages))
	for _, m := range s.messages {
		seers := make([]uint, 0, len(m.SeenBy))
		for _, sv := range m.SeenBy {
			seers = append(seers, sv.UserID)
		}
		sort.Slice(seers, func(i, j int) bool { return seers[i] < seers[j] })
		msgs = append(msgs, receipts.Message{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Timestamp: m.Timestamp,
			Sequence:  m.Sequence,
			SeenBy:    seers,
		})
	}
	return receipts.MostRecentSeen(mode, s.selfID, msgs, subset)
}

func uniqueEntries(in []Entry) []Entry {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, e := range in {
		k := e.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func mergeSeen(a, b []imtypes.SeenView) []imtypes.SeenView {
	byUser := make(map[uint]int64, len(a)+len(b))
	order := make([]uint, 0, len(a)+len(b))
	for _, list := range [][]imtypes.SeenView{a, b} {
		for _, sv := range list {
			ts, ok := byUser[sv.UserID]
			if !ok {
				order = append(order, sv.UserID)
			}
			if !ok || sv.Timestamp > ts {
				byUser[sv.UserID] = sv.Timestamp
			}
		}
	}
	out := make([]imtypes.SeenView, 0, len(order))
	for _, uid := range order {
		out = append(out, imtypes.SeenView{UserID: uid, Timestamp: byUser[uid]})
	}
	return out
}

func parentOf(m imtypes.MessageView) uint {
	if m.ParentID == nil {
		return 0
	}
	return *m.ParentID
}

func parentPtr(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

func sameAttachmentNames(a, b []imtypes.AttachmentView) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
