package syncstore

import (
	"strconv"
	"sync"
)

// Ticket 标记一次针对某会话发起的拉取。
type Ticket struct {
	ConversationID uint
}

// Selection 记录当前打开的会话。切换会话后, 针对旧会话的慢请求结果会被丢弃。
type Selection struct {
	mu      sync.Mutex
	current uint
}

// Select 切换当前会话并返回拉取用的 ticket。
func (s *Selection) Select(conversationID uint) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = conversationID
	return Ticket{ConversationID: conversationID}
}

func (s *Selection) Current() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Accept 判断拉取结果到达时, 它的目标是否仍是当前会话。
func (s *Selection) Accept(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.ConversationID != 0 && t.ConversationID == s.current
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
