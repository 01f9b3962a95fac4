package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisDriver "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	"sitechat/internal/handlers/apiserver"
	"sitechat/internal/handlers/chatserver"
	"sitechat/internal/middleware"
	appRedis "sitechat/internal/redis"
	"sitechat/internal/retention"
	"sitechat/internal/sequence"
	"sitechat/internal/services"
	"sitechat/internal/storage"
	ws "sitechat/internal/websocket"
	"sitechat/pkg/logger"
	"sitechat/pkg/tracing"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.FromEnv(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法初始化日志: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobal(log)
	defer log.Sync()
	log.Info("API 服务器配置加载成功", zap.String("app", cfg.AppName), zap.String("version", cfg.AppVersion))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, cfg.AppName+"-api", cfg.Tracing.Endpoint)
		if err != nil {
			log.Fatal("无法初始化 tracing", zap.Error(err))
		}
		defer tracing.Shutdown(context.Background(), tp)
	}

	// 3. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("无法初始化数据库", zap.Error(err))
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatal("数据库表迁移失败", zap.Error(err))
	}
	log.Info("API 服务器数据库连接成功", zap.String("type", cfg.Database.Type))

	// 4. 初始化 Redis Client (可选)
	var redisClient *redisDriver.Client
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Addr != "" {
		redisClient, err = appRedis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("无法连接到 Redis", zap.Error(err))
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
		log.Info("成功连接到 Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// 5. 初始化 Repositories
	userRepo := storage.NewGormUserRepository(db)
	convRepo := storage.NewGormConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	projectRepo := storage.NewGormProjectRepository(db)
	notificationRepo := storage.NewGormNotificationRepository(db)

	// 6. 序列号分配
	authority, err := newAuthority(cfg.Sequence, db, redisClient, msgRepo)
	if err != nil {
		log.Fatal("无法初始化序列号分配", zap.Error(err))
	}
	log.Info("序列号分配已就绪", zap.String("backend", cfg.Sequence.Backend))

	// 7. 事件发布
	hub := ws.NewHub(log)
	publisher, closePublisher, err := dispatch.FromConfig(cfg, hub, log)
	if err != nil {
		log.Fatal("无法初始化事件发布", zap.Error(err))
	}
	defer closePublisher()
	instrumented := dispatch.NewInstrumented(publisher, log)

	// 8. 初始化 Services
	notificationService := services.NewNotificationService(notificationRepo, instrumented, log)
	conversationService := services.NewConversationService(convRepo, userRepo, projectRepo, instrumented, log)
	groupService := services.NewGroupService(convRepo, userRepo, notificationService, instrumented, log)
	messageService := services.NewMessageService(msgRepo, convRepo, projectRepo, authority, instrumented, cfg.Storage.MaxFiles, log)
	seenService := services.NewSeenService(msgRepo, convRepo, projectRepo, instrumented, log)
	discussionService := services.NewDiscussionService(msgRepo, convRepo, projectRepo, authority, notificationService, instrumented, cfg.Storage.MaxFiles, log)

	storageService, err := storage.NewLocalStorageService(cfg.Storage)
	if err != nil {
		log.Fatal("无法初始化本地存储服务", zap.Error(err))
	}

	// 9. 初始化 Handlers 与路由
	uploadHandler := apiserver.NewUploadHandler(storageService, messageService, cfg.Storage, cfg.Auth.JWTSecretKey, log)
	router := apiserver.NewRouter(apiserver.Handlers{
		Conversations: apiserver.NewConversationHandler(conversationService, messageService, seenService, uploadHandler, log),
		Messages:      apiserver.NewMessageHandler(messageService, seenService, log),
		Groups:        apiserver.NewGroupHandler(groupService, log),
		Discussions:   apiserver.NewDiscussionHandler(discussionService, uploadHandler, log),
		Notifications: apiserver.NewNotificationHandler(notificationService, log),
		Uploads:       uploadHandler,
	},
		middleware.AuthMiddleware(cfg.Auth.JWTSecretKey, blacklist),
		writeLimiter(cfg.RateLimit),
		log,
	)

	// 单进程部署时 websocket 与 REST 共用一个端口
	if cfg.Events.Broker == "local" {
		go hub.Run(ctx)
		wsHandler := chatserver.NewWebSocketHandler(ctx, hub, services.NewRoomAuthorizer(convRepo, projectRepo), blacklist, cfg, log)
		router.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
		log.Info("WebSocket 服务挂载于 API 服务器", zap.String("path", cfg.Server.WebSocketPath))
	}

	// 10. 已读通知定期清理
	if cfg.Retention.Enabled {
		scheduler, err := retention.New(cfg.Retention, notificationService, log)
		if err != nil {
			log.Fatal("无法初始化通知清理", zap.Error(err))
		}
		go scheduler.Run(ctx)
	}

	// 11. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        apiserver.WithCORS(cfg.APIServer.CORS, router),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		IdleTimeout:    60 * time.Second,
	}

	go func() {
		log.Info("API 服务器启动", zap.String("addr", serverAddr), zap.String("broker", cfg.Events.Broker))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API 服务器启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("收到关闭信号, 正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("API 服务器强制关闭", zap.Error(err))
	}
	log.Info("API 服务器已成功关闭")
}

// newAuthority 按配置选择序列号后端。
func newAuthority(cfg config.SequenceConfig, db *gorm.DB, redisClient *redisDriver.Client, msgRepo storage.MessageRepository) (sequence.Authority, error) {
	switch cfg.Backend {
	case "", "memory":
		// 进程重启后从已持久化的最大值接续
		return sequence.NewMemoryAuthority(sequence.WithLoader(msgRepo.MaxSequence)), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("SEQUENCE_BACKEND=redis 需要配置 REDIS_ADDR")
		}
		return sequence.NewRedisAuthority(redisClient, cfg.KeyPrefix, nil, msgRepo.MaxSequence), nil
	case "database":
		return sequence.NewGormAuthority(db, nil), nil
	default:
		return nil, fmt.Errorf("不支持的序列号后端: %s", cfg.Backend)
	}
}

func writeLimiter(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.WriteRequests <= 0 {
		return nil
	}
	return middleware.UserRateLimit(cfg.WriteRequests, cfg.Window)
}
