// Package retention 定期清理已读的旧通知。
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"sitechat/internal/config"
	"sitechat/pkg/logger"
)

// DefaultCron 是未配置 CRON 时使用的表达式: 每天 03:00。
const DefaultCron = "0 3 * * *"

// Purger 删除早于 maxAge 的已读记录, 返回删除条数。
type Purger interface {
	PurgeRead(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Scheduler 按 cron 表达式触发清理。
type Scheduler struct {
	cron   string
	maxAge time.Duration
	purger Purger
	log    *logger.Logger
	now    func() time.Time
}

// New 校验配置并创建调度器。MaxAge 必须为正。
func New(cfg config.RetentionConfig, purger Purger, log *logger.Logger) (*Scheduler, error) {
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("无效的清理 cron 表达式: %q", cfg.Cron)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("清理保留时长必须为正: %s", cfg.MaxAge)
	}
	return &Scheduler{
		cron:   cronExpr,
		maxAge: cfg.MaxAge,
		purger: purger,
		log:    log.Named("retention"),
		now:    time.Now,
	}, nil
}

// Next 返回 after 之后的下一次触发时间。
func (s *Scheduler) Next(after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, after, false)
}

// RunOnce 立即执行一次清理。
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	removed, err := s.purger.PurgeRead(ctx, s.maxAge)
	if err != nil {
		return 0, fmt.Errorf("清理已读通知失败: %w", err)
	}
	s.log.Info("已清理已读通知", zap.Int64("removed", removed), zap.Duration("max_age", s.maxAge))
	return removed, nil
}

// Run 阻塞直到 ctx 取消, 每个 cron 触发点执行一次 RunOnce。
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("通知清理调度器已启动", zap.String("cron", s.cron), zap.Duration("max_age", s.maxAge))
	for {
		next, err := s.Next(s.now().UTC())
		if err != nil {
			s.log.Error("计算下一次清理时间失败", zap.String("cron", s.cron), zap.Error(err))
			if !sleep(ctx, 30*time.Second) {
				break
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		if !sleep(ctx, wait) {
			break
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("定时清理失败", zap.Error(err))
		}
	}
	s.log.Info("通知清理调度器已停止")
}

// sleep 在 ctx 取消时返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
