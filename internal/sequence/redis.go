package sequence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"sitechat/pkg/metrics"
)

// nextScript 在 Redis 端原子地完成 "序号加一 + 时间戳取最大值"。
// 计数器不存在且没有传入初始值 (ARGV[2], ARGV[3]) 时返回 {-1, 0},
// 由调用方读取持久化的最大值后带着初始值重试。初始化和自增在同一个脚本内,
// 并发的首次调用只会有一个生效。
var nextScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  if ARGV[2] == nil then
    return {-1, 0}
  end
  redis.call('HSET', KEYS[1], 'seq', ARGV[2], 'ts', ARGV[3])
end
local seq = redis.call('HINCRBY', KEYS[1], 'seq', 1)
local last = tonumber(redis.call('HGET', KEYS[1], 'ts') or '0')
local now = tonumber(ARGV[1])
if last > now then
  now = last
end
redis.call('HSET', KEYS[1], 'ts', now)
return {seq, now}
`)

// RedisAuthority 把计数器保存在 Redis hash 中, 可被多个 apiserver 实例共享。
// 计数器丢失 (首次使用、键被淘汰或 FLUSH) 时从 loader 接续。
type RedisAuthority struct {
	client    redis.Scripter
	keyPrefix string
	clock     Clock
	loader    Loader
}

// NewRedisAuthority loader 为 nil 时缺失的计数器从 0 开始。
func NewRedisAuthority(client redis.Scripter, keyPrefix string, clock Clock, loader Loader) *RedisAuthority {
	if clock == nil {
		clock = SystemClock
	}
	return &RedisAuthority{client: client, keyPrefix: keyPrefix, clock: clock, loader: loader}
}

func (a *RedisAuthority) key(conversationID uint) string {
	return a.keyPrefix + strconv.FormatUint(uint64(conversationID), 10)
}

// Next 分配下一个戳。
func (a *RedisAuthority) Next(ctx context.Context, conversationID uint) (Stamp, error) {
	keys := []string{a.key(conversationID)}
	args := []any{a.clock()}
	if a.loader == nil {
		args = append(args, 0, 0)
	}

	s, err := a.run(ctx, conversationID, keys, args)
	if err != nil || s.Sequence >= 0 {
		return s, err
	}

	seq, ts, err := a.loader(ctx, conversationID)
	if err != nil {
		return Stamp{}, fmt.Errorf("读取会话 %d 的已持久化序列号失败: %w", conversationID, err)
	}
	s, err = a.run(ctx, conversationID, keys, append(args, seq, ts))
	if err != nil {
		return Stamp{}, err
	}
	if s.Sequence < 0 {
		return Stamp{}, fmt.Errorf("redis 未能初始化会话 %d 的计数器", conversationID)
	}
	return s, nil
}

func (a *RedisAuthority) run(ctx context.Context, conversationID uint, keys []string, args []any) (Stamp, error) {
	vals, err := nextScript.Run(ctx, a.client, keys, args...).Int64Slice()
	if err != nil {
		return Stamp{}, fmt.Errorf("redis 分配会话 %d 序列号失败: %w", conversationID, err)
	}
	if len(vals) != 2 {
		return Stamp{}, fmt.Errorf("redis 序列脚本返回了 %d 个值", len(vals))
	}
	if vals[0] >= 0 {
		metrics.SequenceAssigned.WithLabelValues("redis").Inc()
	}
	return Stamp{Sequence: vals[0], Timestamp: vals[1]}, nil
}
