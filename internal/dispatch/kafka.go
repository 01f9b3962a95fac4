package dispatch

import (
	"context"
	"fmt"

	confluent "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"sitechat/internal/imtypes"
	"sitechat/internal/kafka"
	"sitechat/pkg/logger"
)

// KafkaPublisher 把事件写入出站 topic, 由各个 ChatServer 实例消费后投递。
// 消息 key 为房间 id, 同一房间的事件落在同一分区, 保持顺序。
type KafkaPublisher struct {
	producer kafka.MessageProducer
	topic    string
}

func NewKafkaPublisher(producer kafka.MessageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, room, event string, payload interface{}) error {
	frame, err := imtypes.NewEnvelope(room, event, payload)
	if err != nil {
		return fmt.Errorf("编码事件 %s 失败: %w", event, err)
	}
	return p.producer.SendMessage(ctx, p.topic, []byte(room), frame)
}

// KafkaRelay 返回 ChatServer 端的消息处理函数: 把出站事件投递给本实例的 Hub。
// 无法解析的消息记录日志后跳过, 不阻塞后续消息。
func KafkaRelay(hub Deliverer, log *logger.Logger) kafka.MessageHandler {
	log = log.Named("kafka-relay")
	return func(ctx context.Context, msg *confluent.Message) error {
		env, err := busEnvelope(msg.Value)
		if err != nil {
			log.Warn("丢弃无法解析的事件", zap.Error(err))
			return nil
		}
		return deliver(ctx, hub, env, msg.Value)
	}
}

// busEnvelope 解码总线上的一帧并校验房间 id。
func busEnvelope(frame []byte) (imtypes.Envelope, error) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return env, err
	}
	if _, _, err := imtypes.ParseRoom(env.Room); err != nil {
		return env, err
	}
	return env, nil
}
