// Package receipts 计算会话中 "已读" 标记应该显示在哪条消息上。
package receipts

import (
	"sitechat/internal/imtypes"
	"sitechat/internal/ordering"
)

// Mode 区分群聊与私聊的已读规则。
type Mode int

const (
	// Group: 只标记最近一条有人看过的消息, 列出除发送者外看过它的人
	Group Mode = iota
	// Direct: 只标记查看者自己发的最近一条消息, 且仅在对方已读时
	Direct
)

// Message 是计算所需的最小消息信息。
type Message struct {
	ID        uint
	SenderID  uint
	Timestamp int64
	Sequence  int64
	SeenBy    []uint
}

func (m Message) OrderKey() ordering.Key {
	return ordering.Key{Timestamp: m.Timestamp, Sequence: m.Sequence}
}

// MostRecentSeen 返回应显示的已读标记, 没有时返回 nil。
// msgs 顺序任意; subset 非空时只考虑这些用户 (例如当前仍在会话中的成员)。
func MostRecentSeen(mode Mode, viewerID uint, msgs []Message, subset []uint) *imtypes.SeenAnnotation {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	ordering.SortMessages(sorted)

	var allowed map[uint]bool
	if len(subset) > 0 {
		allowed = make(map[uint]bool, len(subset))
		for _, id := range subset {
			allowed[id] = true
		}
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		m := sorted[i]
		if mode == Direct && m.SenderID != viewerID {
			continue
		}
		seers := filterSeers(m, allowed)
		if mode == Direct {
			// 私聊里查看者最近一条消息对方没看过, 更早的消息也不再标记
			if len(seers) == 0 {
				return nil
			}
			return &imtypes.SeenAnnotation{MessageID: m.ID, SeenBy: seers}
		}
		if len(seers) > 0 {
			return &imtypes.SeenAnnotation{MessageID: m.ID, SeenBy: seers}
		}
	}
	return nil
}

func filterSeers(m Message, allowed map[uint]bool) []uint {
	var out []uint
	dup := make(map[uint]bool, len(m.SeenBy))
	for _, uid := range m.SeenBy {
		if uid == m.SenderID || dup[uid] {
			continue
		}
		if allowed != nil && !allowed[uid] {
			continue
		}
		dup[uid] = true
		out = append(out, uid)
	}
	return out
}
