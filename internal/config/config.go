package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	Server     ServerConfig    `mapstructure:"SERVER"`     // ChatServer (websocket) 的配置
	APIServer  APIServerConfig `mapstructure:"API_SERVER"` // REST 服务器配置
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	NATS       NATSConfig      `mapstructure:"NATS"`
	Events     EventsConfig    `mapstructure:"EVENTS"`
	Sequence   SequenceConfig  `mapstructure:"SEQUENCE"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	RateLimit  RateLimitConfig `mapstructure:"RATE_LIMIT"`
	Retention  RetentionConfig `mapstructure:"RETENTION"`
	Tracing    TracingConfig   `mapstructure:"TRACING"`
}

// ServerConfig holds configuration for the chat (websocket) HTTP server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"BROKERS"`
	ClientID string   `mapstructure:"CLIENT_ID"`
	// 服务端推向客户端的事件 (envelope)，key 为 room id
	WebSocketOutgoingTopic string `mapstructure:"WEBSOCKET_OUTGOING_TOPIC"`
	// 每个 ChatServer 实例都必须收到全部出站事件，实际 group.id 为 CONSUMER_GROUP + "-" + 实例ID
	ConsumerGroup string `mapstructure:"CONSUMER_GROUP"`
	// 实例ID, 为空时使用主机名。重启后沿用同一个消费组, 不会在 broker 上留下废弃的组
	InstanceID string `mapstructure:"INSTANCE_ID"`
	Protocol   string `mapstructure:"PROTOCOL"`
}

// NATSConfig holds configuration for the NATS event bus.
type NATSConfig struct {
	URL           string `mapstructure:"URL"`
	Token         string `mapstructure:"TOKEN"`
	SubjectPrefix string `mapstructure:"SUBJECT_PREFIX"`
}

// EventsConfig selects the transport between the API server and chat servers.
type EventsConfig struct {
	// "local" (单进程, API 与 websocket 同进程), "kafka" 或 "nats"
	Broker string `mapstructure:"BROKER"`
}

// SequenceConfig selects the per-conversation sequence backend.
type SequenceConfig struct {
	// "memory", "redis" 或 "database"
	Backend   string `mapstructure:"BACKEND"`
	KeyPrefix string `mapstructure:"KEY_PREFIX"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"` // "postgres" 或 "sqlite"
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
	// sqlite 文件路径, ":memory:" 表示内存库
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
}

// StorageConfig holds configuration for attachment storage.
type StorageConfig struct {
	Type          string        `mapstructure:"TYPE"` // 目前仅支持 "local"
	LocalPath     string        `mapstructure:"LOCAL_PATH"`
	MaxFileSizeMB int64         `mapstructure:"MAX_FILE_SIZE_MB"`
	MaxFiles      int           `mapstructure:"MAX_FILES"`
	SignedURLTTL  time.Duration `mapstructure:"SIGNED_URL_TTL"`
	PublicBaseURL string        `mapstructure:"PUBLIC_BASE_URL"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int     `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int     `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int     `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int     `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int     `mapstructure:"SEND_BUFFER_SIZE"`
	InboundRPS          float64 `mapstructure:"INBOUND_RPS"`
	InboundBurst        int     `mapstructure:"INBOUND_BURST"`
}

// RateLimitConfig limits REST write requests per user.
type RateLimitConfig struct {
	WriteRequests int           `mapstructure:"WRITE_REQUESTS"`
	Window        time.Duration `mapstructure:"WINDOW"`
}

// RetentionConfig controls the purge of old read notifications.
type RetentionConfig struct {
	Enabled bool          `mapstructure:"ENABLED"`
	Cron    string        `mapstructure:"CRON"`
	MaxAge  time.Duration `mapstructure:"MAX_AGE"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"ENABLED"`
	Endpoint string `mapstructure:"ENDPOINT"`
}

// LoadConfig reads configuration from file or environment variables.
// An empty path searches ./config and the working directory for config.yaml.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "SiteChat")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// ChatServer
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws/chat")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20)

	// APIServer
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "X-Correlation-ID"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300)

	// Kafka
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "sitechat")
	v.SetDefault("KAFKA.WEBSOCKET_OUTGOING_TOPIC", "sitechat-room-events")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "sitechat-chat-server")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.INSTANCE_ID", "")

	// NATS
	v.SetDefault("NATS.URL", "nats://localhost:4222")
	v.SetDefault("NATS.TOKEN", "")
	v.SetDefault("NATS.SUBJECT_PREFIX", "sitechat.rooms")

	v.SetDefault("EVENTS.BROKER", "local")

	v.SetDefault("SEQUENCE.BACKEND", "database")
	v.SetDefault("SEQUENCE.KEY_PREFIX", "sitechat:seq:")

	// Database
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "sitechat")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.SQLITE_PATH", "sitechat.db")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	// Storage
	v.SetDefault("STORAGE.TYPE", "local")
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 25)
	v.SetDefault("STORAGE.MAX_FILES", 10)
	v.SetDefault("STORAGE.SIGNED_URL_TTL", 5*time.Minute)
	v.SetDefault("STORAGE.PUBLIC_BASE_URL", "")

	// Auth
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 15*time.Minute)

	// Redis
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// WebSocket
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 256)
	v.SetDefault("WEBSOCKET.INBOUND_RPS", 5)
	v.SetDefault("WEBSOCKET.INBOUND_BURST", 20)

	v.SetDefault("RATE_LIMIT.WRITE_REQUESTS", 120)
	v.SetDefault("RATE_LIMIT.WINDOW", time.Minute)

	v.SetDefault("RETENTION.ENABLED", true)
	v.SetDefault("RETENTION.CRON", "0 3 * * *")
	v.SetDefault("RETENTION.MAX_AGE", 30*24*time.Hour)

	v.SetDefault("TRACING.ENABLED", false)
	v.SetDefault("TRACING.ENDPOINT", "localhost:4318")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// SEQUENCE_BACKEND 覆盖 Sequence.Backend, 嵌套键用下划线连接
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// InstanceGroup 返回本实例的出站消费组 id。
func (c KafkaConfig) InstanceGroup() (string, error) {
	id := c.InstanceID
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("无法确定实例ID, 请设置 KAFKA_INSTANCE_ID: %w", err)
		}
		id = host
	}
	return c.ConsumerGroup + "-" + id, nil
}
