package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sitechat/internal/auth"
	"sitechat/internal/config"
	"sitechat/internal/dispatch"
	"sitechat/internal/handlers/chatserver"
	appKafka "sitechat/internal/kafka"
	appRedis "sitechat/internal/redis"
	"sitechat/internal/services"
	"sitechat/internal/storage"
	"sitechat/internal/websocket"
	"sitechat/pkg/logger"
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
	log.Info("Chat 服务器配置加载成功", zap.String("broker", cfg.Events.Broker))

	if cfg.Events.Broker == "local" {
		log.Fatal("EVENTS_BROKER=local 时 websocket 由 API 服务器提供, 无需启动 Chat 服务器")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化数据库连接 (加入房间时校验权限)
	db, err := storage.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("无法初始化数据库", zap.Error(err))
	}
	convRepo := storage.NewGormConversationRepository(db)
	projectRepo := storage.NewGormProjectRepository(db)

	// 3. 令牌黑名单 (可选)
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Addr != "" {
		redisClient, err := appRedis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("无法连接到 Redis", zap.Error(err))
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
	}

	// 4. 初始化 WebSocket Hub
	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	log.Info("WebSocket Hub 已启动")

	// 5. 订阅出站事件并投递给本实例的 Hub
	var wg sync.WaitGroup
	switch cfg.Events.Broker {
	case "kafka":
		// 每个实例使用独立且稳定的消费组, 保证都能收到全部事件
		groupID, err := cfg.Kafka.InstanceGroup()
		if err != nil {
			log.Fatal("无法确定 Kafka 消费组", zap.Error(err))
		}
		consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, groupID, log)
		if err != nil {
			log.Fatal("无法创建出站 Kafka 消费者", zap.Error(err))
		}
		defer consumer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			topics := []string{cfg.Kafka.WebSocketOutgoingTopic}
			if err := consumer.Consume(ctx, topics, dispatch.KafkaRelay(hub, log)); err != nil {
				log.Error("Kafka 出站消费者错误", zap.Error(err))
			}
			log.Info("Kafka 出站消费者 goroutine 已停止")
		}()
	case "nats":
		nc, err := dispatch.ConnectNATS(cfg.NATS, log)
		if err != nil {
			log.Fatal("无法连接 NATS", zap.Error(err))
		}
		defer nc.Drain()
		if _, err := dispatch.SubscribeNATS(ctx, nc, cfg.NATS.SubjectPrefix, hub, log); err != nil {
			log.Fatal("无法订阅 NATS 事件", zap.Error(err))
		}
	default:
		log.Fatal("不支持的事件传输", zap.String("broker", cfg.Events.Broker))
	}

	// 6. 配置 HTTP 服务器路由
	wsHandler := chatserver.NewWebSocketHandler(ctx, hub, services.NewRoomAuthorizer(convRepo, projectRepo), blacklist, cfg, log)
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// 7. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info("Chat HTTP 服务器启动", zap.String("addr", serverAddr), zap.String("path", cfg.Server.WebSocketPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Chat 服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	<-ctx.Done()
	log.Info("Chat 服务器准备关闭...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Error("Chat 服务器关闭失败", zap.Error(err))
	}
	wg.Wait()
	log.Info("Chat 服务器已优雅关闭")
}
