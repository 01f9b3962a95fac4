package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sitechat/internal/config"
	"sitechat/internal/kafka"
	"sitechat/pkg/logger"
)

// ErrNoBus 表示 EVENTS_BROKER=local: 事件只能投递给同进程的 Hub。
var ErrNoBus = errors.New("EVENTS_BROKER=local 时没有跨进程的事件总线")

// Discard 丢弃所有事件。
type Discard struct{}

func (Discard) Publish(ctx context.Context, room, event string, payload interface{}) error {
	return nil
}

// FromConfig 按 EVENTS_BROKER 选择事件传输, 返回的 close 函数在退出时调用。
// local 需要同进程的 hub, hub 为 nil 时返回 ErrNoBus。
func FromConfig(cfg config.Config, hub Deliverer, log *logger.Logger) (Publisher, func(), error) {
	switch cfg.Events.Broker {
	case "", "local":
		if hub == nil {
			return nil, nil, ErrNoBus
		}
		return NewHubPublisher(hub), func() {}, nil
	case "kafka":
		producer, err := kafka.NewConfluentKafkaProducer(cfg.Kafka, log)
		if err != nil {
			return nil, nil, fmt.Errorf("无法创建 Kafka 生产者: %w", err)
		}
		log.Info("Kafka 生产者初始化成功", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.WebSocketOutgoingTopic))
		return NewKafkaPublisher(producer, cfg.Kafka.WebSocketOutgoingTopic), producer.Close, nil
	case "nats":
		nc, err := ConnectNATS(cfg.NATS, log)
		if err != nil {
			return nil, nil, err
		}
		return NewNATSPublisher(nc, cfg.NATS.SubjectPrefix), func() { _ = nc.Drain() }, nil
	default:
		return nil, nil, fmt.Errorf("不支持的事件传输: %s", cfg.Events.Broker)
	}
}
