package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	"sitechat/internal/models"
	"sitechat/internal/retention"
	"sitechat/internal/services"
	"sitechat/internal/storage"
)

func newShowConversationCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show-conversation <conversationID>",
		Short: "显示会话信息和最后一条消息摘要",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "会话ID")
			if err != nil {
				return err
			}
			conv, err := storage.NewGormConversationRepository(opts.db).GetWithParticipants(cmd.Context(), id)
			if err != nil {
				if storage.IsNotFound(err) {
					return fmt.Errorf("会话 %d 不存在", id)
				}
				return fmt.Errorf("获取会话失败: %w", err)
			}

			summary := struct {
				ID                uint   `json:"id"`
				Kind              string `json:"kind"`
				Name              string `json:"name,omitempty"`
				CreatorID         uint   `json:"creatorId,omitempty"`
				ProjectID         *uint  `json:"projectId,omitempty"`
				Participants      []uint `json:"participants"`
				LastEventPreview  string `json:"lastEventPreview,omitempty"`
				LastEventSenderID uint   `json:"lastEventSenderId,omitempty"`
				LastEventAt       int64  `json:"lastEventAt"`
				LastEventSequence int64  `json:"lastEventSequence"`
			}{
				ID:                conv.ID,
				Kind:              string(conv.Kind),
				Name:              conv.Name,
				CreatorID:         conv.CreatorID,
				ProjectID:         conv.ProjectID,
				Participants:      conv.ParticipantIDs(),
				LastEventPreview:  conv.LastEventPreview,
				LastEventSenderID: conv.LastEventSenderID,
				LastEventAt:       conv.LastEventAt,
				LastEventSequence: conv.LastEventSequence,
			}
			return opts.output(cmd.OutOrStdout(), summary, func(w io.Writer) {
				fmt.Fprintf(w, "会话 %d (%s)\n", conv.ID, conv.Kind)
				if conv.Name != "" {
					fmt.Fprintf(w, "  名称: %s\n", conv.Name)
				}
				if conv.ProjectID != nil {
					fmt.Fprintf(w, "  项目: %d\n", *conv.ProjectID)
				}
				if conv.CreatorID != 0 {
					fmt.Fprintf(w, "  创建者: %d\n", conv.CreatorID)
				}
				fmt.Fprintf(w, "  参与者: %v\n", summary.Participants)
				if !conv.HasLastEvent() {
					fmt.Fprintln(w, "  还没有消息")
					return
				}
				fmt.Fprintf(w, "  最后消息: #%d 来自 %d 于 %s: %s\n",
					conv.LastEventSequence, conv.LastEventSenderID,
					time.UnixMilli(conv.LastEventAt).UTC().Format(time.RFC3339), conv.LastEventPreview)
			})
		},
	}
}

func newListParticipantsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-participants <conversationID>",
		Short: "列出会话的所有参与者",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "会话ID")
			if err != nil {
				return err
			}
			participants, err := storage.NewGormConversationRepository(opts.db).GetConversationParticipants(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("获取参与者失败: %w", err)
			}
			ids := make([]uint, 0, len(participants))
			for _, p := range participants {
				ids = append(ids, p.UserID)
			}
			users, err := storage.NewGormUserRepository(opts.db).GetByIDs(cmd.Context(), ids)
			if err != nil {
				return fmt.Errorf("获取用户失败: %w", err)
			}
			names := make(map[uint]string, len(users))
			for i := range users {
				names[users[i].ID] = users[i].DisplayName()
			}

			type row struct {
				UserID   uint      `json:"userId"`
				Name     string    `json:"name"`
				JoinedAt time.Time `json:"joinedAt"`
			}
			rows := make([]row, 0, len(participants))
			for _, p := range participants {
				rows = append(rows, row{UserID: p.UserID, Name: names[p.UserID], JoinedAt: p.JoinedAt})
			}
			return opts.output(cmd.OutOrStdout(), rows, func(w io.Writer) {
				fmt.Fprintf(w, "会话 %d 共有 %d 个参与者\n", id, len(rows))
				for _, r := range rows {
					fmt.Fprintf(w, "  %d\t%s\t%s\n", r.UserID, r.Name, r.JoinedAt.UTC().Format(time.RFC3339))
				}
			})
		},
	}
}

func newSequenceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sequence <conversationID>",
		Short: "显示会话已持久化的最大序列号和时间戳",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "会话ID")
			if err != nil {
				return err
			}
			seq, ts, err := storage.NewGormMessageRepository(opts.db).MaxSequence(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("查询序列号失败: %w", err)
			}
			out := map[string]int64{"sequence": seq, "timestamp": ts}
			return opts.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "会话 %d: sequence=%d timestamp=%d\n", id, seq, ts)
			})
		},
	}
}

func newPurgeNotificationsCommand(opts *RootOptions) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "purge-notifications",
		Short: "立即删除早于 --max-age 的已读通知",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAge <= 0 {
				maxAge = opts.cfg.Retention.MaxAge
			}
			// 清理不发布事件, publisher 为空即可
			notifications := services.NewNotificationService(storage.NewGormNotificationRepository(opts.db), nil, opts.log)
			scheduler, err := retention.New(config.RetentionConfig{Cron: opts.cfg.Retention.Cron, MaxAge: maxAge}, notifications, opts.log)
			if err != nil {
				return err
			}
			removed, err := scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return opts.output(cmd.OutOrStdout(), map[string]int64{"removed": removed}, func(w io.Writer) {
				fmt.Fprintf(w, "已删除 %d 条已读通知\n", removed)
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "保留时长, 默认使用 RETENTION_MAX_AGE")
	return cmd
}

func newCreateUserCommand(opts *RootOptions) *cobra.Command {
	var username, nickname, role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "创建用户",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidRole(models.UserRole(role)) {
				return fmt.Errorf("无效的角色: %q", role)
			}
			user := &models.User{Username: username, Nickname: nickname, Role: models.UserRole(role)}
			if err := storage.NewGormUserRepository(opts.db).Create(cmd.Context(), user); err != nil {
				if storage.IsUniqueViolation(err) {
					return fmt.Errorf("用户名 %q 已存在", username)
				}
				return fmt.Errorf("创建用户失败: %w", err)
			}
			return opts.output(cmd.OutOrStdout(), user, func(w io.Writer) {
				fmt.Fprintf(w, "已创建用户 %d (%s, %s)\n", user.ID, user.Username, user.Role)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "用户名 (必填)")
	_ = cmd.MarkFlagRequired("username")
	cmd.Flags().StringVar(&nickname, "nickname", "", "显示名称")
	cmd.Flags().StringVar(&role, "role", string(models.RoleStaff), "角色")
	return cmd
}

func newAddProjectMemberCommand(opts *RootOptions) *cobra.Command {
	var projectID, userID uint
	cmd := &cobra.Command{
		Use:   "add-project-member",
		Short: "把用户加入项目, 之后可以访问项目讨论区",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 加入成员不发布事件
			projects := opts.projects(dispatch.Discard{})
			if err := projects.AddMember(cmd.Context(), projectID, userID); err != nil {
				return err
			}
			out := map[string]uint{"projectId": projectID, "userId": userID}
			return opts.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "用户 %d 已加入项目 %d\n", userID, projectID)
			})
		},
	}
	cmd.Flags().UintVar(&projectID, "project", 0, "项目ID (必填)")
	cmd.Flags().UintVar(&userID, "user", 0, "用户ID (必填)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRemoveProjectMemberCommand(opts *RootOptions) *cobra.Command {
	var projectID, userID uint
	cmd := &cobra.Command{
		Use:   "remove-project-member",
		Short: "把用户移出项目, 在线连接会立即离开项目房间",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, closePub, live, err := opts.events()
			if err != nil {
				return err
			}
			defer closePub()
			if err := opts.projects(pub).RemoveMember(cmd.Context(), projectID, userID); err != nil {
				return err
			}
			if !live {
				fmt.Fprintln(cmd.ErrOrStderr(), "警告: EVENTS_BROKER=local, 该用户已建立的连接要到重连后才会失去项目房间")
			}
			out := map[string]interface{}{"projectId": projectID, "userId": userID, "revoked": live}
			return opts.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "用户 %d 已移出项目 %d\n", userID, projectID)
			})
		},
	}
	cmd.Flags().UintVar(&projectID, "project", 0, "项目ID (必填)")
	cmd.Flags().UintVar(&userID, "user", 0, "用户ID (必填)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (o *RootOptions) projects(pub dispatch.Publisher) services.ProjectService {
	return services.NewProjectService(
		storage.NewGormProjectRepository(o.db),
		storage.NewGormConversationRepository(o.db),
		storage.NewGormUserRepository(o.db),
		pub, o.log)
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "为已存在的用户签发访问令牌",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := storage.NewGormUserRepository(opts.db).GetByUsername(cmd.Context(), args[0])
			if err != nil {
				if storage.IsNotFound(err) {
					return fmt.Errorf("用户 %q 不存在", args[0])
				}
				return fmt.Errorf("获取用户失败: %w", err)
			}
			authCfg := opts.cfg.Auth
			if expiry > 0 {
				authCfg.JWTExpiry = expiry
			}
			token, err := auth.GenerateToken(user.ID, user.Username, string(user.Role), authCfg)
			if err != nil {
				return fmt.Errorf("签发令牌失败: %w", err)
			}
			out := map[string]interface{}{"userId": user.ID, "token": token}
			return opts.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "有效期, 默认使用 AUTH_JWT_EXPIRY")
	return cmd
}

func newRevokeTokenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-token <token>",
		Short: "吊销访问令牌, 直到它原本的过期时间",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := auth.ValidateToken(cmd.Context(), args[0], opts.cfg.Auth.JWTSecretKey, nil)
			if err != nil {
				return fmt.Errorf("令牌无效: %w", err)
			}
			if claims.ID == "" || claims.ExpiresAt == nil {
				return errors.New("令牌缺少 jti 或过期时间, 无法吊销")
			}
			blacklist, closeBlacklist, err := opts.tokenBlacklist(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBlacklist()
			if err := blacklist.Add(cmd.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
				return fmt.Errorf("吊销令牌失败: %w", err)
			}
			out := map[string]interface{}{"userId": claims.UserID, "jti": claims.ID, "until": claims.ExpiresAt.Time}
			return opts.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "已吊销用户 %d 的令牌 %s, 有效期至 %s\n", claims.UserID, claims.ID, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
			})
		},
	}
}
