// Package ordering 实现会话内消息和会话列表的排序规则。
package ordering

import (
	"sort"
)

// Key 是排序键, Timestamp 为毫秒。
type Key struct {
	Timestamp int64
	Sequence  int64
}

// Compare 返回 -1, 0, 1, 先比较 Timestamp 再比较 Sequence。
func (k Key) Compare(o Key) int {
	switch {
	case k.Timestamp < o.Timestamp:
		return -1
	case k.Timestamp > o.Timestamp:
		return 1
	case k.Sequence < o.Sequence:
		return -1
	case k.Sequence > o.Sequence:
		return 1
	}
	return 0
}

// Newer 判断 k 是否严格晚于 o。
func (k Key) Newer(o Key) bool {
	return k.Compare(o) > 0
}

// Entry 是可以放进会话列表的条目。
type Entry interface {
	// LastEventKey 返回最后事件的排序键, ok=false 表示会话还没有消息
	LastEventKey() (key Key, ok bool)
	// CreatedAtMillis 是会话创建时间
	CreatedAtMillis() int64
	EntryID() uint
}

// SortConversations 原地排序会话列表:
// 没有任何消息的会话置顶 (新建的在前), 其余按最后事件 (timestamp, sequence) 降序。
func SortConversations[T Entry](list []T) {
	sort.SliceStable(list, func(i, j int) bool {
		return conversationLess(list[i], list[j])
	})
}

func conversationLess(a, b Entry) bool {
	ka, okA := a.LastEventKey()
	kb, okB := b.LastEventKey()
	if okA != okB {
		return !okA
	}
	if !okA {
		if a.CreatedAtMillis() != b.CreatedAtMillis() {
			return a.CreatedAtMillis() > b.CreatedAtMillis()
		}
		return a.EntryID() > b.EntryID()
	}
	if c := ka.Compare(kb); c != 0 {
		return c > 0
	}
	return a.EntryID() > b.EntryID()
}

// Message 是可以按会话内顺序排列的条目。
type Message interface {
	OrderKey() Key
}

// SortMessages 按 (timestamp, sequence) 升序原地排序。
func SortMessages[T Message](list []T) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].OrderKey().Compare(list[j].OrderKey()) < 0
	})
}
