package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"sitechat/internal/config"
	"sitechat/pkg/logger"
)

// MessageHandler is a function type for processing consumed Kafka messages.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	log      *logger.Logger
}

// NewConfluentKafkaConsumer creates a consumer for groupID.
// 实时事件只对在线连接有意义, 新的消费组从最新位置开始读。
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, groupID string, log *logger.Logger) (MessageConsumer, error) {
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer: group id is required")
	}
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  cfg.Protocol,
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}
	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	return &confluentKafkaConsumer{
		consumer: consumer,
		cfg:      cfg,
		groupID:  groupID,
		log:      log.Named("kafka-consumer").With(zap.String("group", groupID)),
	}, nil
}

// Consume blocks until ctx is canceled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, c.groupID, err)
	}
	c.log.Info("Kafka consumer 已启动", zap.Strings("topics", topics))

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Kafka consumer 收到退出信号")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				c.log.Error("处理 Kafka 消息失败",
					zap.String("topic", *e.TopicPartition.Topic),
					zap.String("offset", e.TopicPartition.Offset.String()),
					zap.Error(err))
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				c.log.Warn("提交 offset 失败", zap.Error(err))
			}
		case kafka.Error:
			c.log.Error("Kafka consumer 错误", zap.Error(e), zap.Bool("fatal", e.IsFatal()))
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			c.log.Info("分区已分配", zap.Int("partitions", len(e.Partitions)))
			c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			c.log.Info("分区已回收", zap.Int("partitions", len(e.Partitions)))
			c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.log.Error("关闭 Kafka consumer 失败", zap.Error(err))
	}
	c.consumer = nil
}
