// Package sequence 为每个会话分配严格递增的 (sequence, timestamp) 戳。
//
// 同一会话的 Next 调用是线性化的: sequence 每次加一, timestamp 取
// max(当前时间, 上一次的 timestamp), 因此按 (timestamp, sequence) 排序
// 与分配顺序一致, 即使服务器时钟回拨也一样。
package sequence

import (
	"context"
	"time"
)

// Stamp 是一次分配的结果。Timestamp 为毫秒。
type Stamp struct {
	Sequence  int64 `json:"sequence"`
	Timestamp int64 `json:"timestamp"`
}

// Less 按 (Timestamp, Sequence) 比较。
func (s Stamp) Less(o Stamp) bool {
	if s.Timestamp != o.Timestamp {
		return s.Timestamp < o.Timestamp
	}
	return s.Sequence < o.Sequence
}

// Authority 是会话序列号的唯一来源。
type Authority interface {
	Next(ctx context.Context, conversationID uint) (Stamp, error)
}

// Clock 返回毫秒时间戳, 测试中可替换。
type Clock func() int64

// SystemClock 使用 time.Now。
func SystemClock() int64 {
	return time.Now().UnixMilli()
}

func clamp(now, last int64) int64 {
	if now < last {
		return last
	}
	return now
}
