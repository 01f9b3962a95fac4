package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"sitechat/internal/config"
	"sitechat/internal/imtypes"
	"sitechat/pkg/logger"
)

// NATSConn 是发布需要的 nats.Conn 子集。
type NATSConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher 把事件发布到 "<prefix>.<room>" 主题。
type NATSPublisher struct {
	conn   NATSConn
	prefix string
}

func NewNATSPublisher(conn NATSConn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject 返回房间对应的主题。
func (p *NATSPublisher) Subject(room string) string {
	return p.prefix + "." + room
}

func (p *NATSPublisher) Publish(ctx context.Context, room, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := imtypes.NewEnvelope(room, event, payload)
	if err != nil {
		return fmt.Errorf("编码事件 %s 失败: %w", event, err)
	}
	return p.conn.Publish(p.Subject(room), frame)
}

// ConnectNATS 建立 NATS 连接, 断线后无限重连。
func ConnectNATS(cfg config.NATSConfig, log *logger.Logger) (*nats.Conn, error) {
	log = log.Named("nats")
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS 连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS 已重连", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS 错误", zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSRelay 返回 ChatServer 端的订阅回调: 把收到的事件投递给本实例的 Hub。
func NATSRelay(ctx context.Context, hub Deliverer, log *logger.Logger) nats.MsgHandler {
	log = log.Named("nats-relay")
	return func(msg *nats.Msg) {
		env, err := busEnvelope(msg.Data)
		if err != nil {
			log.Warn("丢弃无法解析的事件", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := deliver(ctx, hub, env, msg.Data); err != nil {
			log.Warn("投递事件失败", zap.String("room", env.Room), zap.Error(err))
		}
	}
}

// SubscribeNATS 订阅 "<prefix>.>" 下的全部房间事件。
func SubscribeNATS(ctx context.Context, nc *nats.Conn, prefix string, hub Deliverer, log *logger.Logger) (*nats.Subscription, error) {
	subject := strings.TrimSuffix(prefix, ".") + ".>"
	sub, err := nc.Subscribe(subject, NATSRelay(ctx, hub, log))
	if err != nil {
		return nil, fmt.Errorf("订阅 %s 失败: %w", subject, err)
	}
	return sub, nil
}

func decodeEnvelope(frame []byte) (imtypes.Envelope, error) {
	var env imtypes.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, err
	}
	return env, nil
}
