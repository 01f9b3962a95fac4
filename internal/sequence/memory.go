package sequence

import (
	"context"
	"fmt"
	"sync"

	"sitechat/pkg/metrics"
)

// Loader 返回会话已持久化的最大 (sequence, timestamp), 用于进程重启后接续计数。
type Loader func(ctx context.Context, conversationID uint) (int64, int64, error)

type counter struct {
	mu       sync.Mutex
	loaded   bool
	sequence int64
	lastTs   int64
}

// MemoryAuthority 是单进程的序列后端。多实例部署请使用 Redis 或数据库后端。
type MemoryAuthority struct {
	mu       sync.Mutex
	counters map[uint]*counter
	clock    Clock
	loader   Loader
}

// MemoryOption 配置 MemoryAuthority。
type MemoryOption func(*MemoryAuthority)

// WithLoader 在首次使用某会话时从 loader 读取初始值。
func WithLoader(l Loader) MemoryOption {
	return func(a *MemoryAuthority) { a.loader = l }
}

// WithClock 替换时钟。
func WithClock(c Clock) MemoryOption {
	return func(a *MemoryAuthority) { a.clock = c }
}

func NewMemoryAuthority(opts ...MemoryOption) *MemoryAuthority {
	a := &MemoryAuthority{counters: make(map[uint]*counter), clock: SystemClock}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *MemoryAuthority) counterFor(conversationID uint) *counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[conversationID]
	if !ok {
		c = &counter{}
		a.counters[conversationID] = c
	}
	return c
}

// Next 分配下一个戳。
func (a *MemoryAuthority) Next(ctx context.Context, conversationID uint) (Stamp, error) {
	c := a.counterFor(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if a.loader != nil {
			seq, ts, err := a.loader(ctx, conversationID)
			if err != nil {
				return Stamp{}, fmt.Errorf("加载会话 %d 的序列号失败: %w", conversationID, err)
			}
			c.sequence, c.lastTs = seq, ts
		}
		c.loaded = true
	}

	c.sequence++
	c.lastTs = clamp(a.clock(), c.lastTs)
	metrics.SequenceAssigned.WithLabelValues("memory").Inc()
	return Stamp{Sequence: c.sequence, Timestamp: c.lastTs}, nil
}
