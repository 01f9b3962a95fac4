package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	appRedis "sitechat/internal/redis"
	"sitechat/internal/storage"
	"sitechat/pkg/logger"
)

// RootOptions 是所有子命令共享的参数和连接。
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"

	cfg       config.Config
	db        *gorm.DB
	log       *logger.Logger
	publisher dispatch.Publisher
	blacklist auth.TokenBlacklist
}

// NewRootCommand 创建 admin 命令行的根命令。
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// newRootCommand 在 opts.db 已设置时跳过配置加载和数据库连接。
func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "SiteChat 运维工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("无效的输出格式 %q: 只支持 text 或 json", opts.Format)
			}
			return opts.connect()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "配置文件路径, 默认搜索 ./config/config.yaml")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "输出格式 (text|json)")

	cmd.AddCommand(newShowConversationCommand(opts))
	cmd.AddCommand(newListParticipantsCommand(opts))
	cmd.AddCommand(newSequenceCommand(opts))
	cmd.AddCommand(newPurgeNotificationsCommand(opts))
	cmd.AddCommand(newCreateUserCommand(opts))
	cmd.AddCommand(newAddProjectMemberCommand(opts))
	cmd.AddCommand(newRemoveProjectMemberCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newRevokeTokenCommand(opts))
	return cmd
}

func (o *RootOptions) connect() error {
	if o.log == nil {
		o.log = logger.NewNop()
	}
	if o.db != nil {
		return nil
	}
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("无法加载配置: %w", err)
	}
	db, err := storage.InitDB(cfg.Database, o.log)
	if err != nil {
		return fmt.Errorf("无法连接数据库: %w", err)
	}
	o.cfg = cfg
	o.db = db
	return nil
}

// events 返回事件总线的 Publisher。EVENTS_BROKER=local 时 Hub 在 API 服务器进程内,
// 命令行无法触达, 返回 Discard 和 false。
func (o *RootOptions) events() (dispatch.Publisher, func(), bool, error) {
	if o.publisher != nil {
		return o.publisher, func() {}, true, nil
	}
	pub, closeFn, err := dispatch.FromConfig(o.cfg, nil, o.log)
	if errors.Is(err, dispatch.ErrNoBus) {
		return dispatch.Discard{}, func() {}, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return pub, closeFn, true, nil
}

// tokenBlacklist 连接 Redis 黑名单, 没有配置 REDIS_ADDR 时返回错误。
func (o *RootOptions) tokenBlacklist(ctx context.Context) (auth.TokenBlacklist, func(), error) {
	if o.blacklist != nil {
		return o.blacklist, func() {}, nil
	}
	if o.cfg.Redis.Addr == "" {
		return nil, nil, errors.New("吊销令牌需要配置 REDIS_ADDR")
	}
	client, err := appRedis.Connect(ctx, o.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return appRedis.NewRedisTokenBlacklist(client), func() { _ = client.Close() }, nil
}

// output 以 json 格式输出 v, 或调用 text 输出文本。
func (o *RootOptions) output(w io.Writer, v interface{}, text func(w io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func parseID(s, what string) (uint, error) {
	id, err := storage.StrToUint(s)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("无效的%s: %q", what, s)
	}
	return id, nil
}
